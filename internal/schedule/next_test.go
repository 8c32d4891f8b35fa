package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekly(t *testing.T) {
	next, err := Weekly(time.Sunday, "03:00", time.UTC)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// 2024-03-13 is a Wednesday
		{"later this week", time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 17, 3, 0, 0, 0, time.UTC)},
		{"same day before", time.Date(2024, 3, 17, 2, 59, 0, 0, time.UTC), time.Date(2024, 3, 17, 3, 0, 0, 0, time.UTC)},
		{"same day at run time", time.Date(2024, 3, 17, 3, 0, 0, 0, time.UTC), time.Date(2024, 3, 24, 3, 0, 0, 0, time.UTC)},
		{"same day after", time.Date(2024, 3, 17, 8, 0, 0, 0, time.UTC), time.Date(2024, 3, 24, 3, 0, 0, 0, time.UTC)},
		{"across month", time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := next(tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWeekly_Location(t *testing.T) {
	loc := time.FixedZone("PKT", 5*60*60)
	next, err := Weekly(time.Monday, "01:30", loc)
	require.NoError(t, err)

	// Sunday 21:00 UTC is Monday 02:00 local, so the run moves a week on
	got, err := next(time.Date(2024, 3, 17, 21, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 25, 1, 30, 0, 0, loc), got)
}

func TestWeekly_InvalidTime(t *testing.T) {
	_, err := Weekly(time.Sunday, "25:00", time.UTC)
	assert.Error(t, err)
	_, err = Weekly(time.Sunday, "noon", time.UTC)
	assert.Error(t, err)
}
