package domain

import "time"

// RawObservationRow is one data line of a source CSV, decoded but not yet
// normalized. Timestamp keeps the exporter's text.
type RawObservationRow struct {
	Line           int
	Timestamp      string
	TempC          float64
	RelHumidityPC  float64
	DewPointC      float64
	VPDkPa         float64
	AbsHumidityGM3 float64
}

// Observation is a normalized row attributed to a sensor, ready to store.
type Observation struct {
	SensorID       int64
	Timestamp      time.Time
	TempC          float64
	RelHumidityPC  int32
	DewPointC      float64
	VPDkPa         float64
	AbsHumidityGM3 float64
}

// FileTask is a discovered source file resolved to a sensor.
type FileTask struct {
	Path       string
	SensorID   int64
	SensorName string
}

// DedupKey selects which stored rows a new row is compared against.
type DedupKey string

const (
	// KeyTimestamp treats a timestamp stored for any sensor as present.
	KeyTimestamp DedupKey = "timestamp"
	// KeySensorTimestamp only compares against the file's own sensor.
	KeySensorTimestamp DedupKey = "sensor_timestamp"
)

// TimestampFilter scopes an existing-timestamp query.
type TimestampFilter struct {
	SensorID int64
	BySensor bool
}

// FilterFor returns the storage scope the key implies for a file's sensor.
func (k DedupKey) FilterFor(sensorID int64) TimestampFilter {
	if k == KeySensorTimestamp {
		return TimestampFilter{SensorID: sensorID, BySensor: true}
	}
	return TimestampFilter{}
}

// Valid reports whether k is a known dedup key.
func (k DedupKey) Valid() bool {
	return k == KeyTimestamp || k == KeySensorTimestamp
}
