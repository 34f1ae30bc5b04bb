package domain

import (
	"context"
	"time"
)

// Session is one storage unit of work. The existing-timestamp read and the
// append of a single file run in the same Session so no other writer can
// slip rows in between.
type Session interface {
	// ExistingTimestamps returns the stored instants within filter.
	ExistingTimestamps(ctx context.Context, filter TimestampFilter) ([]time.Time, error)
	// Append inserts rows, ignoring any that conflict with stored rows, and
	// returns how many were written. An empty slice is a no-op.
	Append(ctx context.Context, rows []Observation) (int, error)
}

// ObservationKey identifies one stored observation.
type ObservationKey struct {
	SensorID  int64
	Timestamp time.Time
}
