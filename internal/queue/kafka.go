package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/database"
)

// Event types published on the events topic
const (
	EventDailyAggregate   = "daily_aggregate"
	EventMonthlyAggregate = "monthly_aggregate"
	EventBenchmark        = "benchmark"
	EventTarget           = "target"
	EventShiftEnergy      = "shift_energy"
	EventAnomaly          = "anomaly"
)

// plantKey keys plant-wide records so they share one partition
const plantKey = "plant"

// Event is the envelope of every message
type Event struct {
	Type       string          `json:"type"`
	DeviceID   string          `json:"device_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes aggregate, benchmark and target changes to Kafka
type Producer struct {
	writer messageWriter
	now    func() time.Time
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Partition by key (device id)
		RequiredAcks: kafka.RequireOne,
		Async:        false, // Synchronous for reliability
	}, logger)
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, now: time.Now, logger: logger.Named("producer")}
}

// PublishDaily announces a stored daily aggregate
func (p *Producer) PublishDaily(ctx context.Context, a *database.DailyAggregate) error {
	return p.publish(ctx, EventDailyAggregate, a.DeviceID, dailyPayload(a))
}

// PublishMonthly announces a stored monthly aggregate
func (p *Producer) PublishMonthly(ctx context.Context, m *database.MonthlyAggregate) error {
	return p.publish(ctx, EventMonthlyAggregate, m.DeviceID, monthlyPayload(m))
}

// PublishBenchmark announces a stored benchmark
func (p *Producer) PublishBenchmark(ctx context.Context, b *database.Benchmark) error {
	return p.publish(ctx, EventBenchmark, b.DeviceID, benchmarkPayload(b))
}

// PublishTarget announces a target progress update
func (p *Producer) PublishTarget(ctx context.Context, t *database.Target) error {
	return p.publish(ctx, EventTarget, t.DeviceID, targetPayload(t))
}

// PublishShift announces a stored shift consumption
func (p *Producer) PublishShift(ctx context.Context, e *database.ShiftEnergy) error {
	return p.publish(ctx, EventShiftEnergy, e.DeviceID, shiftPayload(e))
}

// PublishAnomaly announces a flagged day
func (p *Producer) PublishAnomaly(ctx context.Context, a *database.Anomaly) error {
	return p.publish(ctx, EventAnomaly, a.DeviceID, anomalyPayload(a))
}

func (p *Producer) publish(ctx context.Context, typ, deviceID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	value, err := json.Marshal(Event{
		Type:       typ,
		DeviceID:   deviceID,
		OccurredAt: p.now().UTC(),
		Payload:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}

	key := deviceID
	if key == database.PlantWide {
		key = plantKey
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	p.logger.Debug("event published", zap.String("type", typ), zap.String("key", key))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// CreateTopic creates a Kafka topic with the specified number of partitions
func CreateTopic(brokers []string, topic string, numPartitions int, replicationFactor int) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
}
