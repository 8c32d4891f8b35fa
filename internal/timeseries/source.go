package timeseries

//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks

import (
	"context"
	"time"

	"github.com/smukkama/energy-reporting/internal/tier"
)

// Row is one reading returned by the time-series store.
type Row struct {
	Time   time.Time
	Device string
	Field  string
	Value  float64
}

// Source executes a single tier sub-query.
type Source interface {
	Query(ctx context.Context, q tier.SubQuery) ([]Row, error)
}
