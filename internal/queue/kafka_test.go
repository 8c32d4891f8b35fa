package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/energy"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(w *fakeWriter) *Producer {
	p := newProducer(w, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC) }
	return p
}

func TestPublishDaily(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	eff := 0.5
	err := p.PublishDaily(context.Background(), &database.DailyAggregate{
		DeviceID:             "d1",
		Date:                 time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Kind:                 energy.Electrical,
		Status:               database.DayFinalized,
		TotalEnergyKWh:       20,
		EfficiencyKWhPerUnit: &eff,
		Breakdown:            component.Breakdown{component.Lights: 5},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "d1", string(w.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventDailyAggregate, ev.Type)
	assert.Equal(t, "d1", ev.DeviceID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "2024-03-10", payload["date"])
	assert.Equal(t, "finalized", payload["status"])
	assert.Equal(t, false, payload["is_overtime"])
	assert.Equal(t, 20.0, payload["total_energy_kwh"])
	assert.Nil(t, payload["units_produced"])
	assert.Equal(t, map[string]any{"lights": 5.0}, payload["component_breakdown"])
}

func TestPublish_PlantWideKey(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishBenchmark(context.Background(), &database.Benchmark{
		ID: "b1", DeviceID: database.PlantWide, Type: database.BenchmarkBestDay, MetricName: "kwh_per_unit", Value: 2,
	}))
	require.NoError(t, p.PublishTarget(context.Background(), &database.Target{ID: "t1", DeviceID: "d2", IsOnTrack: true}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "plant", string(w.msgs[0].Key))
	assert.Equal(t, "d2", string(w.msgs[1].Key))
}

func TestPublish_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	w := &fakeWriter{err: boom}
	p := newTestProducer(w)

	err := p.PublishMonthly(context.Background(), &database.MonthlyAggregate{DeviceID: "d1"})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishShiftAndAnomaly(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	ctx := context.Background()

	require.NoError(t, p.PublishShift(ctx, &database.ShiftEnergy{
		ShiftID: "s1", ShiftName: "Night", DeviceID: "d1",
		Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), TotalEnergyKWh: 8,
	}))
	require.NoError(t, p.PublishAnomaly(ctx, &database.Anomaly{
		DeviceID: "d2", Date: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), TotalEnergyKWh: 90, ZScore: 2.45,
	}))
	require.Len(t, w.msgs, 2)

	var ev Event
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventShiftEnergy, ev.Type)
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "Night", payload["shift_name"])
	assert.Equal(t, "2024-03-10", payload["shift_date"])
	assert.Nil(t, payload["energy_per_unit"])

	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, EventAnomaly, ev.Type)
	assert.Equal(t, "d2", string(w.msgs[1].Key))
	payload = nil
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, 2.45, payload["zscore"])
	assert.Equal(t, "2024-03-09", payload["date"])
}
