package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docgen/models"
)

// StatusService mirrors job state into Redis hashes so sibling systems can
// poll Redis instead of the HTTP API. Best-effort: Redis being down never
// affects a job.
type StatusService struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStatusService(client *redis.Client, prefix string, ttl time.Duration) *StatusService {
	return &StatusService{client: client, prefix: prefix, ttl: ttl}
}

// Publish writes the job's current state hash under conversion:status:<id>.
func (s *StatusService) Publish(ctx context.Context, job *models.ConversionJob) {
	key := s.prefix + "conversion:status:" + job.ID

	fields := map[string]interface{}{
		"state":      string(job.State),
		"attempts":   job.Attempts,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if job.Failure != nil {
		fields["error_kind"] = string(job.Failure.Kind)
		fields["error"] = job.Failure.Message
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		slog.Warn("failed to publish job status", "job_id", job.ID, "error", err)
		return
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
}
