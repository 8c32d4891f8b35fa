package timeseries

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smukkama/energy-reporting/internal/tier"
	"github.com/smukkama/energy-reporting/pkg/config"
)

// InfluxSource reads tier series from InfluxDB. Every query is rate limited and bounded by
// the configured timeout.
type InfluxSource struct {
	client  influxdb2.Client
	query   api.QueryAPI
	cfg     config.InfluxConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewInfluxSource creates a source from configuration. The client is owned by the source.
func NewInfluxSource(cfg config.InfluxConfig, logger *zap.Logger) *InfluxSource {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.QueryTimeout.Seconds())+1))

	burst := cfg.QueryBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.QueryRate > 0 {
		limit = rate.Limit(cfg.QueryRate)
	}

	return &InfluxSource{
		client:  client,
		query:   client.QueryAPI(cfg.Org),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("influx"),
	}
}

// Ping checks the store is reachable.
func (s *InfluxSource) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping influxdb: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb at %s is not ready", s.cfg.URL)
	}
	return nil
}

// Query runs one sub-query and returns its rows in store order.
func (s *InfluxSource) Query(ctx context.Context, q tier.SubQuery) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	flux := q.Flux(s.cfg.Bucket)
	s.logger.Debug("querying tier",
		zap.String("tier", q.Tier),
		zap.String("series", q.Series),
		zap.Time("start", q.Start),
		zap.Time("stop", q.Stop),
	)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Series, err)
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		rec := result.Record()
		value, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		device, _ := rec.ValueByKey(q.DeviceTag).(string)
		rows = append(rows, Row{
			Time:   rec.Time(),
			Device: device,
			Field:  rec.Field(),
			Value:  value,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", q.Series, err)
	}
	return rows, nil
}

// Close releases the client.
func (s *InfluxSource) Close() {
	s.client.Close()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
