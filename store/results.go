package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docgen/models"
)

// DurableBackend is an optional second home for artifacts (S3 in
// production). The in-memory store always serves reads.
type DurableBackend interface {
	UploadArtifact(ctx context.Context, artifact *models.Artifact) error
	DeleteArtifact(ctx context.Context, jobID string) error
}

type entry struct {
	job      *models.ConversionJob
	storedAt time.Time
}

// ResultStore holds terminal jobs and their artifacts until TTL expiry.
// Jobs arrive here exactly once, already terminal; entries never change
// after Put.
type ResultStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	backend DurableBackend
}

func NewResultStore(ttl time.Duration, backend DurableBackend) *ResultStore {
	return &ResultStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
		backend: backend,
	}
}

// Put records a terminal job. Successful jobs with an artifact are also
// uploaded to the durable backend when one is configured; upload failures
// are logged and do not affect in-memory delivery.
func (s *ResultStore) Put(ctx context.Context, job *models.ConversionJob) {
	s.mu.Lock()
	s.entries[job.ID] = &entry{job: job, storedAt: time.Now()}
	s.mu.Unlock()

	if s.backend != nil && job.Artifact != nil {
		if err := s.backend.UploadArtifact(ctx, job.Artifact); err != nil {
			slog.Warn("durable artifact upload failed", "job_id", job.ID, "error", err)
		}
	}
}

// Get returns the terminal job for id, or false when the id is unknown here
// (either never terminal or already expired).
func (s *ResultStore) Get(id string) (*models.ConversionJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.job, true
}

// Delete removes an entry immediately, including its durable copy.
func (s *ResultStore) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok && s.backend != nil && e.job.Artifact != nil {
		if err := s.backend.DeleteArtifact(ctx, id); err != nil {
			slog.Warn("durable artifact delete failed", "job_id", id, "error", err)
		}
	}
	return ok
}

// Len returns the number of retained entries.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep runs the expiry loop until ctx is cancelled.
func (s *ResultStore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("result store sweep started", "ttl", s.ttl, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("result store sweep stopped")
			return
		case <-ticker.C:
			if n := s.ExpireOnce(ctx); n > 0 {
				slog.Info("expired conversion results", "count", n)
			}
		}
	}
}

// ExpireOnce removes all entries past TTL and returns how many were purged.
func (s *ResultStore) ExpireOnce(ctx context.Context) int {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*entry
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		if s.backend != nil && e.job.Artifact != nil {
			if err := s.backend.DeleteArtifact(ctx, e.job.ID); err != nil {
				slog.Warn("durable artifact delete failed", "job_id", e.job.ID, "error", err)
			}
		}
	}
	return len(expired)
}
