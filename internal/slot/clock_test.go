package slot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "08:00", want: 480},
		{in: "19:00", want: 1140},
		{in: "09:30:00", want: 570},
		{in: " 07:15 ", want: 435},
		{in: "24:00", wantErr: true},
		{in: "9am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockFormatting(t *testing.T) {
	assert.Equal(t, "08:05", NewClock(8, 5).String())
	assert.Equal(t, "16:30", MustClock("16:00").Add(30).String())

	loc := time.FixedZone("ART", -3*3600)
	day, err := ParseDate("2025-01-06")
	require.NoError(t, err)
	at := MustClock("09:45").On(day, loc)
	assert.Equal(t, "2025-01-06T09:45:00-03:00", at.Format(time.RFC3339))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	assert.True(t, SameDay(a, a.Add(23*time.Hour)))
	assert.False(t, SameDay(a, a.Add(24*time.Hour)))

	_, err := ParseDate("06/01/2025")
	assert.Error(t, err)
}

func TestClockJSON(t *testing.T) {
	b, err := json.Marshal(Opening{StartTime: MustClock("08:30"), SubSlot: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start_time":"08:30","sub_slot":2}`, string(b))

	var o Opening
	require.NoError(t, json.Unmarshal([]byte(`{"start_time":"17:45","sub_slot":1}`), &o))
	assert.Equal(t, MustClock("17:45"), o.StartTime)

	assert.Error(t, json.Unmarshal([]byte(`{"start_time":"late"}`), &o))
}
