// Package dispatch turns validator-proposed corrections into idempotent
// backend calls, falling back to the durable pending store when the
// backend cannot be reached, and reconciling local against remote state
// once both are available.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/model"
	"github.com/slashforyou/swift-app-sub000/internal/pending"
)

// Status summarizes what happened to a correction request.
type Status int

const (
	StatusNoop    Status = iota // nothing server-correctable in the input
	StatusApplied               // every correction applied
	StatusPartial               // some corrections applied, some refused
	StatusFailed                // backend reachable but nothing applied
	StatusQueued                // backend unreachable; queued for replay
)

// Outcome is the result of a correction request. HTTP success alone never
// produces StatusApplied; the per-correction results decide.
type Outcome struct {
	Status      Status
	Corrections []api.CorrectionOutcome
	Message     string
}

// Dispatcher owns the correction path between validator and backend.
type Dispatcher struct {
	client *api.Client
	probe  *api.Probe
	store  *pending.Store
	logger *slog.Logger

	appVersion string
	platform   string
	now        func() time.Time
}

// New creates a dispatcher. appVersion and platform are attached to every
// correction request as client metadata.
func New(client *api.Client, probe *api.Probe, store *pending.Store, logger *slog.Logger, appVersion, platform string) *Dispatcher {
	return &Dispatcher{
		client:     client,
		probe:      probe,
		store:      store,
		logger:     logger,
		appVersion: appVersion,
		platform:   platform,
		now:        time.Now,
	}
}

// jobCodeSuffix extracts the numeric tail of a human-readable job code.
var jobCodeSuffix = regexp.MustCompile(`(\d+)$`)

// NormalizeJobID extracts the numeric identifier the backend expects from
// a job code ("JOB-1042" -> 1042). Purely numeric IDs pass through.
func NormalizeJobID(jobID string) (int64, error) {
	m := jobCodeSuffix.FindStringSubmatch(jobID)
	if m == nil {
		return 0, fmt.Errorf("dispatch: job id %q has no numeric suffix", jobID)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dispatch: job id %q: %w", jobID, err)
	}
	return n, nil
}

// RequestServerCorrection submits the server-correctable subset of the
// given inconsistencies. Unreachable backends and absent correction
// endpoints queue the corrections for replay instead of failing; a
// reachable backend's per-correction verdicts decide between applied,
// partial, and failed.
func (d *Dispatcher) RequestServerCorrection(ctx context.Context, jobID string, inconsistencies []model.Inconsistency) (Outcome, error) {
	var correctable []model.Inconsistency
	for _, inc := range inconsistencies {
		if inc.ServerCorrectable {
			correctable = append(correctable, inc)
		}
	}
	if len(correctable) == 0 {
		return Outcome{Status: StatusNoop, Message: "no server-correctable inconsistencies"}, nil
	}

	numericID, err := NormalizeJobID(jobID)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	if !d.probe.Available(ctx, api.RouteJobCorrections) {
		// The endpoint does not exist on this backend; keep the fixes
		// locally until a backend that supports them shows up.
		return d.queue(ctx, jobID, correctable, "correction endpoint absent")
	}

	resp, err := d.client.FixInconsistencies(ctx, numericID, api.CorrectionRequest{
		JobID:           jobID,
		JobCode:         jobID,
		DetectedAt:      d.now().UTC(),
		Inconsistencies: correctable,
		AppVersion:      d.appVersion,
		Platform:        d.platform,
	})
	if api.IsUnreachable(err) {
		return d.queue(ctx, jobID, correctable, "backend unreachable")
	}
	if err != nil {
		d.logger.Error("dispatch: correction request rejected", "job_id", jobID, "error", err)
		return Outcome{Status: StatusFailed}, err
	}

	return resolveOutcome(resp), nil
}

// resolveOutcome inspects per-correction results; an HTTP 200 with zero
// applied corrections is a failure, not a success.
func resolveOutcome(resp *api.CorrectionResponse) Outcome {
	applied := 0
	for _, c := range resp.Corrections {
		if c.Applied {
			applied++
		}
	}

	out := Outcome{Corrections: resp.Corrections, Message: resp.Message}
	switch {
	case len(resp.Corrections) == 0 || applied == 0:
		out.Status = StatusFailed
		if out.Message == "" {
			out.Message = resp.Error
		}
	case applied == len(resp.Corrections):
		out.Status = StatusApplied
	default:
		out.Status = StatusPartial
	}
	return out
}

func (d *Dispatcher) queue(ctx context.Context, jobID string, incs []model.Inconsistency, reason string) (Outcome, error) {
	queued := 0
	var lastErr error
	for _, inc := range incs {
		pc := model.PendingCorrection{
			JobID:     jobID,
			Timestamp: d.now().UTC(),
			Correction: model.Correction{
				Type: inc.CorrectionType,
				Data: map[string]any{
					"inconsistency": string(inc.Type),
					"severity":      string(inc.Severity),
					"description":   inc.Description,
					"detected_at":   inc.DetectedAt.Format(time.RFC3339),
				},
			},
		}
		if err := d.store.Enqueue(ctx, pc); err != nil {
			d.logger.Error("dispatch: failed to queue correction", "job_id", jobID, "type", inc.CorrectionType, "error", err)
			lastErr = err
			continue
		}
		queued++
	}

	// A queued outcome promises the corrections survive a restart. If
	// nothing reached the store that promise is broken; report a failure.
	if queued == 0 {
		return Outcome{Status: StatusFailed, Message: "failed to persist corrections"},
			fmt.Errorf("dispatch: queueing corrections for %s: %w", jobID, lastErr)
	}

	d.logger.Info("dispatch: corrections queued for replay",
		"job_id", jobID, "queued", queued, "reason", reason)
	return Outcome{Status: StatusQueued, Message: reason}, nil
}

// Correct adapts the dispatcher to the validator's auto-correction hook:
// applied means every requested fix landed; a queued outcome is not an
// error.
func (d *Dispatcher) Correct(ctx context.Context, jobID string, inconsistencies []model.Inconsistency) (bool, error) {
	out, err := d.RequestServerCorrection(ctx, jobID, inconsistencies)
	if err != nil {
		return false, err
	}
	return out.Status == StatusApplied, nil
}

// Reconcile resolves a diverging local/remote pair for one job. Offline,
// local state wins outright. Online, the remote snapshot is authoritative
// for any diverging field, and pending corrections for the job are
// replayed and purged on success.
func (d *Dispatcher) Reconcile(ctx context.Context, jobID string, remote, local, lastKnownGood model.JobStateSnapshot) model.JobStateSnapshot {
	if !d.probe.Online(ctx) {
		return local
	}

	resolved := Merge(local, remote, lastKnownGood)

	if err := d.ReplayPending(ctx, jobID); err != nil {
		d.logger.Warn("dispatch: pending replay failed", "job_id", jobID, "error", err)
	}
	return resolved
}

// ReplayPending resubmits the stored corrections for a job, removing each
// one the backend confirms applied. Transport failures leave the queue
// intact for the next attempt.
func (d *Dispatcher) ReplayPending(ctx context.Context, jobID string) error {
	pcs, err := d.store.ListByJob(ctx, jobID)
	if err != nil {
		return err
	}
	if len(pcs) == 0 {
		return nil
	}

	numericID, err := NormalizeJobID(jobID)
	if err != nil {
		return err
	}

	incs := make([]model.Inconsistency, 0, len(pcs))
	for _, pc := range pcs {
		severity := model.InconsistencySeverity(payloadString(pc.Correction.Data, "severity"))
		if severity == "" {
			severity = model.InconsistencyCritical
		}
		detectedAt := pc.Timestamp
		if ts, err := time.Parse(time.RFC3339, payloadString(pc.Correction.Data, "detected_at")); err == nil {
			detectedAt = ts
		}
		incs = append(incs, model.Inconsistency{
			Type:              model.InconsistencyType(payloadString(pc.Correction.Data, "inconsistency")),
			Severity:          severity,
			Description:       payloadString(pc.Correction.Data, "description"),
			JobID:             jobID,
			DetectedAt:        detectedAt,
			ServerCorrectable: true,
			CorrectionType:    pc.Correction.Type,
		})
	}

	resp, err := d.client.FixInconsistencies(ctx, numericID, api.CorrectionRequest{
		JobID:           jobID,
		JobCode:         jobID,
		DetectedAt:      d.now().UTC(),
		Inconsistencies: incs,
		AppVersion:      d.appVersion,
		Platform:        d.platform,
	})
	if err != nil {
		return err
	}

	for _, c := range resp.Corrections {
		if !c.Applied {
			continue
		}
		if err := d.store.Delete(ctx, jobID, c.Type); err != nil {
			d.logger.Warn("dispatch: failed to purge replayed correction",
				"job_id", jobID, "type", c.Type, "error", err)
		}
	}
	return nil
}

func payloadString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// ReplayAll replays the pending queue for every job that has one.
func (d *Dispatcher) ReplayAll(ctx context.Context) {
	jobs, err := d.store.Jobs(ctx)
	if err != nil {
		d.logger.Error("dispatch: failed to enumerate pending jobs", "error", err)
		return
	}
	for _, jobID := range jobs {
		if err := d.ReplayPending(ctx, jobID); err != nil {
			d.logger.Warn("dispatch: pending replay failed", "job_id", jobID, "error", err)
		}
	}
}
