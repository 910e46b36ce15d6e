package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextWeekday(t *testing.T) {
	tests := []struct {
		name string
		now  string
		want string
	}{
		{"monday", "2025-01-06", "2025-01-07"},
		{"friday skips weekend", "2025-01-10", "2025-01-13"},
		{"saturday", "2025-01-11", "2025-01-13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse("2006-01-02", tt.now)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, nextWeekday(now).Format("2006-01-02"))
		})
	}
}

func TestOperationMetrics_Record(t *testing.T) {
	var om OperationMetrics
	om.Record(10*time.Millisecond, true, "")
	om.Record(20*time.Millisecond, false, "slot_occupied")
	om.Record(30*time.Millisecond, false, "slot_occupied")
	om.Record(40*time.Millisecond, false, "")

	assert.Equal(t, int64(4), om.Total)
	assert.Equal(t, int64(1), om.Success)
	assert.Equal(t, int64(2), om.Conflict)
	assert.Equal(t, int64(1), om.Error)
	assert.Equal(t, map[string]int64{"slot_occupied": 2}, om.Reasons())

	avg, min, max, p50, _ := om.Stats()
	assert.Equal(t, 25*time.Millisecond, avg)
	assert.Equal(t, 10*time.Millisecond, min)
	assert.Equal(t, 40*time.Millisecond, max)
	assert.Equal(t, 30*time.Millisecond, p50)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "slot_occupied", errorCode([]byte(`{"error":"slot_occupied","details":"x"}`)))
	assert.Equal(t, "unknown", errorCode([]byte(`not json`)))
}
