// Package job tracks asynchronous ingestion jobs in memory. A job moves
// from queued to exactly one of complete or failed and never transitions
// again.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the job state. queued is the only initial state; complete and
// failed are terminal.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Job is one asynchronous ingestion task.
type Job struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Payload describes what a submitted job should ingest.
type Payload struct {
	RepoURL   string
	Commit    string
	SessionID string
}

// ProcessFunc does the actual ingestion work and produces the result
// payload. It runs once per job on its own goroutine.
type ProcessFunc func(ctx context.Context, p Payload) (map[string]any, error)

// Notifier receives the best-effort completion record for the correlated
// session. It must tolerate an unknown session id.
type Notifier func(sessionID string, rec map[string]any)

// Store is a mutex-guarded map of jobs plus the worker scheduling policy:
// exactly one goroutine per submitted job.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	process ProcessFunc
	notify  Notifier
	logger  *slog.Logger
}

// NewStore builds a Store. A nil process falls back to the simulated
// ingestion used when no real pipeline is wired; a nil notify disables the
// session side effect.
func NewStore(process ProcessFunc, notify Notifier, logger *slog.Logger) *Store {
	if process == nil {
		process = SimulatedProcess(200 * time.Millisecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		jobs:    make(map[string]*Job),
		process: process,
		notify:  notify,
		logger:  logger,
	}
}

// Submit creates a queued job, schedules its worker, and returns
// immediately with a copy of the queued record.
func (s *Store) Submit(p Payload) Job {
	j := &Job{
		ID:        uuid.New().String(),
		Status:    StatusQueued,
		SessionID: p.SessionID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	out := *j
	s.mu.Unlock()

	go s.run(j.ID, p)

	return out
}

// Get returns a copy of the job record.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	out := *j
	if j.Result != nil {
		out.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			out.Result[k] = v
		}
	}
	return out, true
}

// Count reports the number of tracked jobs.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// run processes one job to its terminal state. Workers are not
// cancellable once scheduled; jobs are short and callers treat retries as
// idempotent.
func (s *Store) run(id string, p Payload) {
	result, err := s.process(context.Background(), p)

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
	} else {
		j.Status = StatusComplete
		j.Result = result
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("ingest job failed", "job_id", id, "error", err)
		return
	}
	s.logger.Info("ingest job complete", "job_id", id)

	// Best-effort session update, outside the job lock so the two stores
	// never nest. A missing session must not disturb the terminal state.
	if p.SessionID != "" && s.notify != nil {
		s.notify(p.SessionID, map[string]any{
			"id":     uuid.New().String(),
			"job_id": id,
			"kind":   "ingest_placeholder",
			"repo":   p.RepoURL,
		})
	}
}

// SimulatedProcess stands in for the real ingestion pipeline: it waits
// for delay and reports the payload as ingested.
func SimulatedProcess(delay time.Duration) ProcessFunc {
	return func(ctx context.Context, p Payload) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		result := map[string]any{
			"repo":        p.RepoURL,
			"ingested_at": time.Now().UTC().Format(time.RFC3339),
		}
		if p.Commit != "" {
			result["commit"] = p.Commit
		}
		return result, nil
	}
}
