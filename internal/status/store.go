package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Report is the outcome of one job run
type Report struct {
	RunID      string          `json:"run_id"`
	Job        string          `json:"job"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Processed  int             `json:"processed"`
	Failed     int             `json:"failed"`
	Failures   []FailureRecord `json:"failures,omitempty"`
	Error      string          `json:"error,omitempty"` // the run could not start or was aborted
}

// FailureRecord is one failed unit of work
type FailureRecord struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Summary is the operator-facing one-line report
func (r *Report) Summary() string {
	return fmt.Sprintf("processed %d, failed %d", r.Processed, r.Failed)
}

// HasFailures reports whether any unit of work failed or the run itself errored
func (r *Report) HasFailures() bool {
	return r.Failed > 0 || r.Error != ""
}

// Duration is how long the run took
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store keeps the latest report of every job in Redis
type Store struct {
	redis client
	ttl   time.Duration
}

// NewStore creates a new report store. Reports expire after ttl.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redisClient, ttl: ttl}
}

func reportKey(job string) string {
	return fmt.Sprintf("job_report:%s", job)
}

// Latest retrieves the last report of job. It returns nil when the job has not run.
func (s *Store) Latest(ctx context.Context, job string) (*Report, error) {
	data, err := s.redis.Get(ctx, reportKey(job)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report from Redis: %w", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// Save stores report as the latest run of its job
func (s *Store) Save(ctx context.Context, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// expire so reports of retired jobs clean themselves up
	if err := s.redis.Set(ctx, reportKey(report.Job), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set report in Redis: %w", err)
	}
	return nil
}
