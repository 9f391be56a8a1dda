// Package consistency detects and repairs job-progress state that violates
// the step/status/timer invariants, for example after a network partition
// left the device and backend disagreeing.
package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// defaultTotalSteps is the standard job workflow length, used when a
// snapshot omits its step count.
const defaultTotalSteps = 5

// Corrector applies corrections against the backend. A false applied
// result with a nil error means the correction was queued for replay.
type Corrector interface {
	Correct(ctx context.Context, jobID string, inconsistencies []model.Inconsistency) (applied bool, err error)
}

// Result is the outcome of one validation pass.
type Result struct {
	IsValid         bool
	Inconsistencies []model.Inconsistency
	AutoCorrected   bool
	Corrections     []string // human-readable notes about attempted fixes
}

// Validator checks job-state snapshots against the named invariants.
// Validation itself is pure; only the auto-correction step talks to the
// backend.
type Validator struct {
	maxReasonableHours float64
	now                func() time.Time
}

// NewValidator creates a validator. maxReasonableHours is the heuristic
// ceiling beyond which a timer is presumed left running.
func NewValidator(maxReasonableHours float64) *Validator {
	if maxReasonableHours <= 0 {
		maxReasonableHours = 240
	}
	return &Validator{maxReasonableHours: maxReasonableHours, now: time.Now}
}

// Validate runs every invariant check independently and collects all
// violations found. Checks are not mutually exclusive: a snapshot can
// violate several invariants at once.
func (v *Validator) Validate(snap model.JobStateSnapshot) Result {
	total := snap.TotalSteps
	if total <= 0 {
		total = defaultTotalSteps
	}
	now := v.now().UTC()

	report := func(t model.InconsistencyType, sev model.InconsistencySeverity, desc, fix, correctionType string) model.Inconsistency {
		return model.Inconsistency{
			Type:              t,
			Severity:          sev,
			Description:       desc,
			DetectedAt:        now,
			JobID:             snap.ID,
			CurrentState:      snap,
			SuggestedFix:      fix,
			ServerCorrectable: correctionType != "",
			CorrectionType:    correctionType,
		}
	}

	var found []model.Inconsistency

	// A job past step 1 must have a timer start on record. Once the job
	// is completed the timer is settled and a missing start is repaired
	// elsewhere, so this check covers in-flight jobs only.
	if snap.CurrentStep > 1 && snap.TimerStartedAt == nil && snap.Status != model.JobCompleted {
		found = append(found, report(
			model.TimerNotStarted, model.InconsistencyCritical,
			fmt.Sprintf("job is at step %d but no timer start is recorded", snap.CurrentStep),
			"synthesize a retroactive timer start",
			"start_timer",
		))
	}

	if snap.Status == model.JobCompleted && snap.CurrentStep < total {
		found = append(found, report(
			model.CompletedNotFinalStep, model.InconsistencyCritical,
			fmt.Sprintf("job is completed but only at step %d of %d", snap.CurrentStep, total),
			"advance the job to its final step",
			"complete_steps",
		))
	}

	if snap.CurrentStep == total && snap.Status != model.JobCompleted {
		found = append(found, report(
			model.FinalStepNotCompleted, model.InconsistencyWarning,
			fmt.Sprintf("job reached final step %d but status is %q", total, snap.Status),
			"mark the job completed",
			"complete_job",
		))
	}

	if snap.TimerRunning && snap.Status == model.JobCompleted {
		found = append(found, report(
			model.TimerRunningButComplete, model.InconsistencyWarning,
			"timer is still running on a completed job",
			"stop the timer",
			"stop_timer",
		))
	}

	if snap.TimerTotal < 0 {
		found = append(found, report(
			model.TimerNegative, model.InconsistencyCritical,
			fmt.Sprintf("recorded total of %.2f hours is negative", snap.TimerTotal),
			"reset the timer total",
			"reset_timer",
		))
	}

	if snap.TimerTotal > v.maxReasonableHours {
		found = append(found, report(
			model.TimerExceedsReasonable, model.InconsistencyWarning,
			fmt.Sprintf("recorded total of %.1f hours exceeds the %.0f-hour ceiling; the timer was likely left running", snap.TimerTotal, v.maxReasonableHours),
			"", "",
		))
	}

	if snap.TimerTotal > 0 && snap.CurrentStep == 1 {
		found = append(found, report(
			model.StepMismatch, model.InconsistencyWarning,
			fmt.Sprintf("%.2f hours accumulated while still at step 1", snap.TimerTotal),
			"", "",
		))
	}

	if snap.TimerBreak > snap.TimerTotal {
		found = append(found, report(
			model.BreakLongerThanWork, model.InconsistencyCritical,
			fmt.Sprintf("break time (%.2fh) exceeds total time (%.2fh)", snap.TimerBreak, snap.TimerTotal),
			"", "",
		))
	}

	return Result{IsValid: len(found) == 0, Inconsistencies: found}
}

// ValidateAndCorrect validates the snapshot and, for a missing timer
// start, immediately attempts a server-side correction. Correction
// failures never surface as errors: the dispatcher has already queued the
// fix for replay, and the violation stays in the report either way.
func (v *Validator) ValidateAndCorrect(ctx context.Context, snap model.JobStateSnapshot, corrector Corrector) Result {
	result := v.Validate(snap)
	if corrector == nil {
		return result
	}

	for _, inc := range result.Inconsistencies {
		if inc.Type != model.TimerNotStarted {
			continue
		}

		applied, err := corrector.Correct(ctx, snap.ID, []model.Inconsistency{inc})
		switch {
		case err == nil && applied:
			result.AutoCorrected = true
			result.Corrections = append(result.Corrections,
				fmt.Sprintf("retroactive timer start applied for job %s", snap.ID))
		case err == nil:
			result.Corrections = append(result.Corrections,
				fmt.Sprintf("timer start correction queued for job %s", snap.ID))
		default:
			result.Corrections = append(result.Corrections,
				fmt.Sprintf("timer start correction failed for job %s: %v", snap.ID, err))
		}
	}

	return result
}

// SynthesizeTimerStart proposes a retroactive start timestamp for a job
// whose timer never started: recorded hours back from now, but at least
// one hour so a zero-total job still gets a plausible window.
func SynthesizeTimerStart(now time.Time, recordedHours float64) time.Time {
	back := time.Duration(recordedHours * float64(time.Hour))
	if back < time.Hour {
		back = time.Hour
	}
	return now.Add(-back).UTC()
}
