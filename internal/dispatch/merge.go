package dispatch

import (
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// Merge performs a field-wise three-way merge of a job snapshot. For each
// field: an unchanged local side takes the remote value, an unchanged
// remote side keeps the local value, and when both sides diverged from
// the last known good state the remote value is authoritative.
func Merge(local, remote, base model.JobStateSnapshot) model.JobStateSnapshot {
	out := remote
	out.ID = local.ID
	if out.ID == "" {
		out.ID = remote.ID
	}

	out.CurrentStep = mergeInt(local.CurrentStep, remote.CurrentStep, base.CurrentStep)
	out.TotalSteps = mergeInt(local.TotalSteps, remote.TotalSteps, base.TotalSteps)
	out.Status = mergeStatus(local.Status, remote.Status, base.Status)
	out.TimerStartedAt = mergeTime(local.TimerStartedAt, remote.TimerStartedAt, base.TimerStartedAt)
	out.TimerTotal = mergeFloat(local.TimerTotal, remote.TimerTotal, base.TimerTotal)
	out.TimerBreak = mergeFloat(local.TimerBreak, remote.TimerBreak, base.TimerBreak)
	out.TimerRunning = mergeBool(local.TimerRunning, remote.TimerRunning, base.TimerRunning)
	return out
}

func mergeInt(local, remote, base int) int {
	if remote == base {
		return local
	}
	return remote
}

func mergeFloat(local, remote, base float64) float64 {
	if remote == base {
		return local
	}
	return remote
}

func mergeBool(local, remote, base bool) bool {
	if remote == base {
		return local
	}
	return remote
}

func mergeStatus(local, remote, base model.JobStatus) model.JobStatus {
	if remote == base {
		return local
	}
	return remote
}

func mergeTime(local, remote, base *time.Time) *time.Time {
	if timeEqual(remote, base) {
		return local
	}
	return remote
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
