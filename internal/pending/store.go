// Package pending is the durable local store for corrections that could
// not be applied immediately. It is the only state that survives a
// restart; everything else in the engine is rebuildable from the backend.
package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_corrections (
	job_id          TEXT NOT NULL,
	correction_type TEXT NOT NULL,
	payload         TEXT NOT NULL,
	queued_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (job_id, correction_type)
);
`

// Store persists pending corrections in a local sqlite database,
// deduplicated by (job ID, correction type). Writes for the same job are
// serialized so rapid back-to-back discoveries cannot lose updates.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if needed) the store at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pending: open store: %w", err)
	}
	// sqlite allows one writer; a single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pending: create schema: %w", err)
	}
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockFor returns the per-job mutex, creating it on first use.
func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Enqueue records a correction for later replay. A correction of the same
// type for the same job replaces the earlier one.
func (s *Store) Enqueue(ctx context.Context, pc model.PendingCorrection) error {
	l := s.lockFor(pc.JobID)
	l.Lock()
	defer l.Unlock()

	payload, err := json.Marshal(pc.Correction.Data)
	if err != nil {
		return fmt.Errorf("pending: marshal correction data: %w", err)
	}
	ts := pc.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_corrections (job_id, correction_type, payload, queued_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id, correction_type)
		 DO UPDATE SET payload = excluded.payload, queued_at = excluded.queued_at`,
		pc.JobID, pc.Correction.Type, string(payload), ts,
	)
	if err != nil {
		return fmt.Errorf("pending: enqueue correction: %w", err)
	}
	return nil
}

// ListByJob returns the pending corrections for one job, oldest first.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]model.PendingCorrection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, correction_type, payload, queued_at
		 FROM pending_corrections
		 WHERE job_id = ?
		 ORDER BY queued_at`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("pending: list corrections: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []model.PendingCorrection
	for rows.Next() {
		var (
			pc      model.PendingCorrection
			payload string
		)
		if err := rows.Scan(&pc.JobID, &pc.Correction.Type, &payload, &pc.Timestamp); err != nil {
			return nil, fmt.Errorf("pending: scan correction: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &pc.Correction.Data); err != nil {
			return nil, fmt.Errorf("pending: decode correction data: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Jobs returns the distinct job IDs that have corrections waiting.
func (s *Store) Jobs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT job_id FROM pending_corrections ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("pending: list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pending: scan job id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete removes one replayed correction.
func (s *Store) Delete(ctx context.Context, jobID, correctionType string) error {
	l := s.lockFor(jobID)
	l.Lock()
	defer l.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_corrections WHERE job_id = ? AND correction_type = ?`,
		jobID, correctionType,
	)
	if err != nil {
		return fmt.Errorf("pending: delete correction: %w", err)
	}
	return nil
}

// PurgeJob removes every correction for a job after a successful replay.
func (s *Store) PurgeJob(ctx context.Context, jobID string) error {
	l := s.lockFor(jobID)
	l.Lock()
	defer l.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_corrections WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("pending: purge job: %w", err)
	}
	return nil
}
