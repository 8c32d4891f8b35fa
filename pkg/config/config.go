package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Influx      InfluxConfig
	Tiers       TierConfig
	Aggregation AggregationConfig
	Fields      FieldConfig
	Cost        CostConfig
	Taxonomy    TaxonomyConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	SMTP        SMTPConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// InfluxConfig describes the time-series store holding the raw and downsampled meter series.
type InfluxConfig struct {
	URL          string
	Token        string
	Org          string
	Bucket       string
	Measurement  string
	DeviceTag    string
	QueryTimeout time.Duration
	QueryRate    float64
	QueryBurst   int
	RawWindow    time.Duration
	RawFn        string
}

// TierConfig holds the age boundaries between the raw, 1m, 5m and 1h series.
type TierConfig struct {
	RawMaxAge    time.Duration
	MinuteMaxAge time.Duration
	FiveMaxAge   time.Duration
}

type AggregationConfig struct {
	HourlyDelay   time.Duration
	DailyTime     string
	MonthlyTime   string
	BenchmarkTime string
	BenchmarkDay  time.Weekday
	TargetTime    string
	AnomalyTime   string
	// ShiftTime should fall after the last shift of the previous day has ended
	ShiftTime     string
	FinalizeGrace time.Duration
	// CounterLookback is how far before a day reads reach for the preceding counter value
	CounterLookback time.Duration
	Timezone        string
	Workers         int
	BackfillDays    int
	BenchmarkDays   int
	// TargetPeriod and TargetBenchmark select the targets seeded from active benchmarks.
	// TargetBenchmark "none" disables seeding.
	TargetPeriod     string
	TargetBenchmark  string
	AnomalyWindow    int
	AnomalyThreshold float64
}

// Location resolves the plant time zone used to cut calendar days.
func (a AggregationConfig) Location() (*time.Location, error) {
	return time.LoadLocation(a.Timezone)
}

// FieldConfig names the counter and instantaneous-rate fields read per measurement kind
// when a device does not override them.
type FieldConfig struct {
	ElectricalCounter string
	ElectricalRate    string
	VolumetricCounter string
	VolumetricRate    string
}

type CostConfig struct {
	ElectricityRate float64
	CoalPerM3       float64
	KWhPerKgCoal    float64
	CoalCostPerKg   float64
}

type TaxonomyConfig struct {
	RulesFile string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	ReportTTL time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	TopicEvents string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LogConfig struct {
	Dir        string
	Production bool
}

var (
	ErrMissingInfluxURL   = errors.New("INFLUX_URL is required")
	ErrMissingInfluxToken = errors.New("INFLUX_TOKEN is required")
)

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "energy_user"),
			Password:      getEnv("DB_PASSWORD", ""),
			DBName:        getEnv("DB_NAME", "energy_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Influx: InfluxConfig{
			URL:          getEnv("INFLUX_URL", ""),
			Token:        getEnv("INFLUX_TOKEN", ""),
			Org:          getEnv("INFLUX_ORG", "plant"),
			Bucket:       getEnv("INFLUX_BUCKET", "modbus"),
			Measurement:  getEnv("INFLUX_MEASUREMENT", "modbus_data"),
			DeviceTag:    getEnv("INFLUX_DEVICE_TAG", "device_id"),
			QueryTimeout: getEnvAsDuration("INFLUX_QUERY_TIMEOUT", 10*time.Second),
			QueryRate:    getEnvAsFloat("INFLUX_QUERY_RATE", 20),
			QueryBurst:   getEnvAsInt("INFLUX_QUERY_BURST", 5),
			RawWindow:    getEnvAsDuration("INFLUX_RAW_WINDOW", time.Minute),
			RawFn:        getEnv("INFLUX_RAW_FN", "last"),
		},
		Tiers: TierConfig{
			RawMaxAge:    getEnvAsDuration("TIER_RAW_MAX_AGE", 5*24*time.Hour),
			MinuteMaxAge: getEnvAsDuration("TIER_1M_MAX_AGE", 35*24*time.Hour),
			FiveMaxAge:   getEnvAsDuration("TIER_5M_MAX_AGE", 215*24*time.Hour),
		},
		Aggregation: AggregationConfig{
			HourlyDelay:      getEnvAsDuration("AGGREGATION_HOURLY_DELAY", 5*time.Minute),
			DailyTime:        getEnv("AGGREGATION_DAILY_TIME", "01:00"),
			MonthlyTime:      getEnv("AGGREGATION_MONTHLY_TIME", "02:00"),
			BenchmarkTime:    getEnv("AGGREGATION_BENCHMARK_TIME", "03:00"),
			BenchmarkDay:     time.Weekday(getEnvAsInt("AGGREGATION_BENCHMARK_WEEKDAY", int(time.Sunday))),
			TargetTime:       getEnv("AGGREGATION_TARGET_TIME", "04:00"),
			AnomalyTime:      getEnv("AGGREGATION_ANOMALY_TIME", "01:30"),
			ShiftTime:        getEnv("AGGREGATION_SHIFT_TIME", "09:00"),
			FinalizeGrace:    getEnvAsDuration("AGGREGATION_FINALIZE_GRACE", 2*time.Hour),
			CounterLookback:  getEnvAsDuration("AGGREGATION_COUNTER_LOOKBACK", 2*time.Hour),
			Timezone:         getEnv("AGGREGATION_TIMEZONE", "UTC"),
			Workers:          getEnvAsInt("AGGREGATION_WORKERS", 4),
			BackfillDays:     getEnvAsInt("AGGREGATION_BACKFILL_DAYS", 7),
			BenchmarkDays:    getEnvAsInt("AGGREGATION_BENCHMARK_DAYS", 90),
			TargetPeriod:     getEnv("AGGREGATION_TARGET_PERIOD", "monthly"),
			TargetBenchmark:  getEnv("AGGREGATION_TARGET_BENCHMARK", "best_week"),
			AnomalyWindow:    getEnvAsInt("AGGREGATION_ANOMALY_WINDOW", 7),
			AnomalyThreshold: getEnvAsFloat("AGGREGATION_ANOMALY_THRESHOLD", 2),
		},
		Fields: FieldConfig{
			ElectricalCounter: getEnv("FIELD_ELECTRICAL_COUNTER", "total_active_energy"),
			ElectricalRate:    getEnv("FIELD_ELECTRICAL_RATE", "active_power_total"),
			VolumetricCounter: getEnv("FIELD_VOLUMETRIC_COUNTER", "total_flow"),
			VolumetricRate:    getEnv("FIELD_VOLUMETRIC_RATE", "flow_rate"),
		},
		Cost: CostConfig{
			ElectricityRate: getEnvAsFloat("COST_ELECTRICITY_RATE", 35.0),
			CoalPerM3:       getEnvAsFloat("COST_COAL_PER_M3", 0.064),
			KWhPerKgCoal:    getEnvAsFloat("COST_KWH_PER_KG_COAL", 7.0),
			CoalCostPerKg:   getEnvAsFloat("COST_COAL_COST_PER_KG", 250.0),
		},
		Taxonomy: TaxonomyConfig{
			RulesFile: getEnv("TAXONOMY_RULES_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			ReportTTL: getEnvAsDuration("REDIS_REPORT_TTL", 30*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			TopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "energy.aggregates"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "energy-reporting@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Log: LogConfig{
			Dir:        getEnv("LOG_DIR", "logs"),
			Production: getEnvAsBool("LOG_PRODUCTION", false),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Influx.URL == "" {
		return ErrMissingInfluxURL
	}
	if c.Influx.Token == "" {
		return ErrMissingInfluxToken
	}
	if c.Influx.RawFn != "mean" && c.Influx.RawFn != "last" {
		return fmt.Errorf("invalid INFLUX_RAW_FN %q (expected mean or last)", c.Influx.RawFn)
	}
	if c.Influx.QueryTimeout <= 0 {
		return fmt.Errorf("invalid INFLUX_QUERY_TIMEOUT %s", c.Influx.QueryTimeout)
	}
	if !(c.Tiers.RawMaxAge < c.Tiers.MinuteMaxAge && c.Tiers.MinuteMaxAge < c.Tiers.FiveMaxAge) {
		return fmt.Errorf("tier ages must increase: raw=%s 1m=%s 5m=%s",
			c.Tiers.RawMaxAge, c.Tiers.MinuteMaxAge, c.Tiers.FiveMaxAge)
	}
	if _, err := c.Aggregation.Location(); err != nil {
		return fmt.Errorf("invalid AGGREGATION_TIMEZONE: %w", err)
	}
	if c.Aggregation.Workers < 1 {
		c.Aggregation.Workers = 1
	}
	switch c.Aggregation.TargetPeriod {
	case "weekly", "monthly", "quarterly", "yearly":
	default:
		return fmt.Errorf("invalid AGGREGATION_TARGET_PERIOD %q", c.Aggregation.TargetPeriod)
	}
	switch c.Aggregation.TargetBenchmark {
	case "none", "best_day", "best_week", "best_month", "average", "median", "custom":
	default:
		return fmt.Errorf("invalid AGGREGATION_TARGET_BENCHMARK %q", c.Aggregation.TargetBenchmark)
	}
	if c.Aggregation.AnomalyWindow < 2 || c.Aggregation.AnomalyThreshold <= 0 {
		return fmt.Errorf("invalid anomaly window %d or threshold %g",
			c.Aggregation.AnomalyWindow, c.Aggregation.AnomalyThreshold)
	}
	return nil
}

// SeedsTargets reports whether targets are created from benchmarks.
func (a AggregationConfig) SeedsTargets() bool {
	return a.TargetBenchmark != "none"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
