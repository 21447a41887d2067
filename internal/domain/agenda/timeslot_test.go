package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTimeSlots_DefaultWindow(t *testing.T) {
	slots, err := GenerateTimeSlots(8, 20, 30)
	require.NoError(t, err)
	require.Len(t, slots, 24)

	labels := SlotLabels(slots)
	assert.Equal(t, "08:00", labels[0])
	assert.Equal(t, "19:30", labels[len(labels)-1])
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1], slots[i], "slots must be strictly increasing")
	}
}

func TestGenerateTimeSlots_Deterministic(t *testing.T) {
	a, err := DefaultSlotGrid().Slots()
	require.NoError(t, err)
	b, err := GenerateTimeSlots(8, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateTimeSlots_UnevenStep(t *testing.T) {
	slots, err := GenerateTimeSlots(9, 11, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:45", "10:30"}, SlotLabels(slots))
}

func TestGenerateTimeSlots_Invalid(t *testing.T) {
	tests := []struct {
		name             string
		start, end, step int
	}{
		{"zero step", 8, 20, 0},
		{"negative step", 8, 20, -15},
		{"inverted", 20, 8, 30},
		{"empty", 8, 8, 30},
		{"past midnight", 8, 25, 30},
		{"negative start", -1, 8, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateTimeSlots(tt.start, tt.end, tt.step)
			assert.ErrorIs(t, err, ErrInvalidSlotGrid)
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9, tod.Hour())
	assert.Equal(t, 5, tod.Minute())
	assert.Equal(t, "09:05", tod.String())

	for _, bad := range []string{"9:05", "24:00", "12:60", "noon", "", "12:3a"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeOfDay_OnKeepsLocation(t *testing.T) {
	loc := time.FixedZone("clinic", -3*3600)
	d := time.Date(2024, 1, 10, 23, 59, 0, 0, loc)
	got := NewTimeOfDay(10, 30).On(d)
	assert.Equal(t, time.Date(2024, 1, 10, 10, 30, 0, 0, loc), got)
	assert.Equal(t, NewTimeOfDay(10, 30), TimeOfDayOf(got))
}

func TestTimeOfDay_TextAndScan(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.UnmarshalText([]byte("14:30")))
	b, err := tod.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "14:30", string(b))

	var scanned TimeOfDay
	require.NoError(t, scanned.Scan("14:30:00"))
	assert.Equal(t, tod, scanned)
	require.NoError(t, scanned.Scan(time.Date(0, 1, 1, 7, 15, 0, 0, time.UTC)))
	assert.Equal(t, NewTimeOfDay(7, 15), scanned)
	assert.Error(t, scanned.Scan(42))

	v, err := tod.Value()
	require.NoError(t, err)
	assert.Equal(t, "14:30", v)
}
