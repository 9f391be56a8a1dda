package model

import "time"

// JobStatus is the lifecycle state of a job as reported by the backend.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// JobStateSnapshot is the read-only view of a job's progress/timer state
// that the consistency validator inspects. It carries only the fields the
// validator needs; the wider business schema is out of scope.
type JobStateSnapshot struct {
	ID             string     `json:"id"`
	CurrentStep    int        `json:"current_step"` // 1..TotalSteps
	TotalSteps     int        `json:"total_steps"`
	Status         JobStatus  `json:"status"`
	TimerStartedAt *time.Time `json:"timer_started_at,omitempty"`
	TimerTotal     float64    `json:"timer_total_hours"`
	TimerBreak     float64    `json:"timer_break_hours"`
	TimerRunning   bool       `json:"timer_is_running"`
}

// InconsistencyType names a violated job-state invariant.
type InconsistencyType string

const (
	TimerNotStarted         InconsistencyType = "timer_not_started"
	CompletedNotFinalStep   InconsistencyType = "completed_not_final_step"
	FinalStepNotCompleted   InconsistencyType = "final_step_not_completed"
	TimerRunningButComplete InconsistencyType = "timer_running_but_completed"
	TimerNegative           InconsistencyType = "timer_negative"
	TimerExceedsReasonable  InconsistencyType = "timer_exceeds_reasonable"
	StepMismatch            InconsistencyType = "step_mismatch"
	BreakLongerThanWork     InconsistencyType = "break_longer_than_work"
)

// InconsistencySeverity ranks how badly a violation breaks the job state.
type InconsistencySeverity string

const (
	InconsistencyCritical InconsistencySeverity = "critical"
	InconsistencyWarning  InconsistencySeverity = "warning"
	InconsistencyInfo     InconsistencySeverity = "info"
)

// Inconsistency is one detected invariant violation. Produced fresh on
// every validation pass; persisted only as a PendingCorrection when an
// immediate fix is impossible.
type Inconsistency struct {
	Type              InconsistencyType     `json:"type"`
	Severity          InconsistencySeverity `json:"severity"`
	Description       string                `json:"description"`
	DetectedAt        time.Time             `json:"detected_at"`
	JobID             string                `json:"job_id"`
	CurrentState      JobStateSnapshot      `json:"current_state"`
	SuggestedFix      string                `json:"suggested_fix,omitempty"`
	ServerCorrectable bool                  `json:"server_correctable"`
	CorrectionType    string                `json:"correction_type,omitempty"`
}

// Correction is a concrete fix derived from an inconsistency.
type Correction struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// PendingCorrection is a correction that could not be applied immediately
// and awaits replay once connectivity returns. Deduplicated by
// (JobID, Correction.Type).
type PendingCorrection struct {
	JobID      string     `json:"job_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Correction Correction `json:"correction"`
}
