package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func obsAt(sensorID int64, ts time.Time) Observation {
	return Observation{SensorID: sensorID, Timestamp: ts}
}

func TestFilterNew(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t5 := t0.Add(5 * time.Minute)
	t10 := t0.Add(10 * time.Minute)

	rows := []Observation{obsAt(1, t10), obsAt(1, t0), obsAt(1, t5)}
	existing := NewTimestampSet([]time.Time{t0})

	fresh, present := FilterNew(rows, existing)

	if diff := cmp.Diff([]Observation{obsAt(1, t10), obsAt(1, t5)}, fresh); diff != "" {
		t.Fatalf("fresh rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, present)
	assert.Equal(t, len(rows), len(fresh)+present)
}

func TestFilterNew_DoesNotMutateExisting(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := NewTimestampSet([]time.Time{t0})

	FilterNew([]Observation{obsAt(1, t0.Add(time.Minute)), obsAt(1, t0.Add(2*time.Minute))}, existing)

	assert.Equal(t, 1, existing.Len())
	assert.False(t, existing.Contains(t0.Add(time.Minute)))
}

func TestFilterNew_ComparesCanonicalInstant(t *testing.T) {
	// Stored values may come back with a zone or with seconds attached.
	stored := time.Date(2024, 1, 1, 0, 5, 0, 0, time.FixedZone("X", 3600)).Add(30 * time.Second)
	existing := NewTimestampSet([]time.Time{stored})

	parsed, err := ParseTimestamp("Jan 1, 2024 00:05")
	assert.NoError(t, err)

	fresh, present := FilterNew([]Observation{obsAt(1, parsed)}, existing)
	assert.Empty(t, fresh)
	assert.Equal(t, 1, present)
}

func TestFilterNew_RepeatedTimestampInBatch(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := Observation{SensorID: 1, Timestamp: t0, TempC: 1}
	second := Observation{SensorID: 1, Timestamp: t0, TempC: 2}

	fresh, present := FilterNew([]Observation{first, second}, TimestampSet{})
	assert.Equal(t, []Observation{first}, fresh)
	assert.Equal(t, 1, present)
}

func TestFilterNew_Empty(t *testing.T) {
	fresh, present := FilterNew(nil, NewTimestampSet(nil))
	assert.Empty(t, fresh)
	assert.Zero(t, present)
}

func TestDedupKey_FilterFor(t *testing.T) {
	assert.Equal(t, TimestampFilter{}, KeyTimestamp.FilterFor(4))
	assert.Equal(t, TimestampFilter{SensorID: 4, BySensor: true}, KeySensorTimestamp.FilterFor(4))
	assert.True(t, KeyTimestamp.Valid())
	assert.False(t, DedupKey("sensor").Valid())
}
