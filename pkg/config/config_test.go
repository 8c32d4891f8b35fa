package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setInflux(t *testing.T) {
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "test-token")
}

func TestLoad_Defaults(t *testing.T) {
	setInflux(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*24*time.Hour, cfg.Tiers.RawMaxAge)
	assert.Equal(t, 35*24*time.Hour, cfg.Tiers.MinuteMaxAge)
	assert.Equal(t, 215*24*time.Hour, cfg.Tiers.FiveMaxAge)
	assert.Equal(t, 10*time.Second, cfg.Influx.QueryTimeout)
	assert.Equal(t, "last", cfg.Influx.RawFn)
	assert.Equal(t, "01:00", cfg.Aggregation.DailyTime)
	assert.Equal(t, time.Sunday, cfg.Aggregation.BenchmarkDay)
	assert.InDelta(t, 0.064, cfg.Cost.CoalPerM3, 1e-9)
	assert.InDelta(t, 35.0, cfg.Cost.ElectricityRate, 1e-9)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2*time.Hour, cfg.Aggregation.CounterLookback)
	assert.Equal(t, "09:00", cfg.Aggregation.ShiftTime)
	assert.Equal(t, "monthly", cfg.Aggregation.TargetPeriod)
	assert.True(t, cfg.Aggregation.SeedsTargets())
	assert.Equal(t, 7, cfg.Aggregation.AnomalyWindow)
	assert.InDelta(t, 2.0, cfg.Aggregation.AnomalyThreshold, 1e-9)
}

func TestLoad_Overrides(t *testing.T) {
	setInflux(t)
	t.Setenv("INFLUX_RAW_FN", "mean")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("COST_ELECTRICITY_RATE", "41.5")
	t.Setenv("AGGREGATION_WORKERS", "0")
	t.Setenv("AGGREGATION_TIMEZONE", "Asia/Karachi")
	t.Setenv("AGGREGATION_TARGET_BENCHMARK", "none")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mean", cfg.Influx.RawFn)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.InDelta(t, 41.5, cfg.Cost.ElectricityRate, 1e-9)
	assert.Equal(t, 1, cfg.Aggregation.Workers)
	assert.False(t, cfg.Aggregation.SeedsTargets())

	loc, err := cfg.Aggregation.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Karachi", loc.String())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		t.Setenv("INFLUX_URL", "")
		t.Setenv("INFLUX_TOKEN", "x")
		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingInfluxURL)
	})

	t.Run("missing token", func(t *testing.T) {
		t.Setenv("INFLUX_URL", "http://localhost:8086")
		t.Setenv("INFLUX_TOKEN", "")
		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingInfluxToken)
	})

	t.Run("bad raw fn", func(t *testing.T) {
		setInflux(t)
		t.Setenv("INFLUX_RAW_FN", "max")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("tier ages out of order", func(t *testing.T) {
		setInflux(t)
		t.Setenv("TIER_1M_MAX_AGE", "24h")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad target period", func(t *testing.T) {
		setInflux(t)
		t.Setenv("AGGREGATION_TARGET_PERIOD", "daily")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad anomaly window", func(t *testing.T) {
		setInflux(t)
		t.Setenv("AGGREGATION_ANOMALY_WINDOW", "1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad timezone", func(t *testing.T) {
		setInflux(t)
		t.Setenv("AGGREGATION_TIMEZONE", "Mars/Olympus")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "energy", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=energy sslmode=disable", d.ConnectionString())
}
