package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch v, ok := m.data[key]; {
	case m.err != nil:
		cmd.SetErr(m.err)
	case !ok:
		cmd.SetErr(redis.Nil)
	default:
		cmd.SetVal(v)
	}
	return cmd
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	m.data[key] = string(value.([]byte))
	m.ttl[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func TestStore_SaveAndLatest(t *testing.T) {
	ctx := context.Background()
	mem := newMemRedis()
	s := &Store{redis: mem, ttl: 24 * time.Hour}

	got, err := s.Latest(ctx, "daily")
	require.NoError(t, err)
	assert.Nil(t, got)

	started := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)
	report := &Report{
		RunID:      "run-1",
		Job:        "daily",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Processed:  4,
		Failed:     1,
		Failures:   []FailureRecord{{Key: "d2", Error: "all tier queries failed"}},
	}
	require.NoError(t, s.Save(ctx, report))
	assert.Equal(t, 24*time.Hour, mem.ttl["job_report:daily"])

	got, err = s.Latest(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, report, got)
	assert.Equal(t, "processed 4, failed 1", got.Summary())
	assert.True(t, got.HasFailures())
	assert.Equal(t, 90*time.Second, got.Duration())
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	mem := newMemRedis()
	mem.err = errors.New("connection refused")
	s := &Store{redis: mem, ttl: time.Hour}

	_, err := s.Latest(ctx, "daily")
	assert.Error(t, err)
	assert.Error(t, s.Save(ctx, &Report{Job: "daily"}))

	mem.err = nil
	mem.data["job_report:daily"] = "{not json"
	_, err = s.Latest(ctx, "daily")
	assert.Error(t, err)
}
