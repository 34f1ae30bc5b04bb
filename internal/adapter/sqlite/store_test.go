package sqlite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStoreWithLogger(t, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openTestStoreWithLogger(t *testing.T, logger *slog.Logger) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "db", "weather.db"), "sensors", "weather_data", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.SeedSensors(ctx, []domain.Sensor{{ID: 1, Name: "North"}, {ID: 2, Name: "South"}}))
	return store
}

func at(minute int) time.Time {
	return time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
}

func TestStore_Sensors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedSensors(ctx, []domain.Sensor{{ID: 2, Name: "South Field"}}))

	sensors, err := store.Sensors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Sensor{{ID: 1, Name: "North"}, {ID: 2, Name: "South Field"}}, sensors)
}

func TestStore_SensorsMissingTable(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "empty.db"), "sensors", "weather_data",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Sensors(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCatalogUnavailable)
}

func TestStore_AppendAndExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rows := []domain.Observation{
		{SensorID: 1, Timestamp: at(0), TempC: 21.5, RelHumidityPC: 45, DewPointC: 9.1, VPDkPa: 1.4, AbsHumidityGM3: 8.6},
		{SensorID: 1, Timestamp: at(5), TempC: 21.4, RelHumidityPC: 46, DewPointC: 9.2, VPDkPa: 1.3, AbsHumidityGM3: 8.7},
		{SensorID: 2, Timestamp: at(10), TempC: 18.0, RelHumidityPC: 60, DewPointC: 10.0, VPDkPa: 0.8, AbsHumidityGM3: 9.3},
	}

	err := store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		n, err := s.Append(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		all, err := s.ExistingTimestamps(ctx, domain.KeyTimestamp.FilterFor(1))
		require.NoError(t, err)
		assert.ElementsMatch(t, []time.Time{at(0), at(5), at(10)}, all)

		own, err := s.ExistingTimestamps(ctx, domain.KeySensorTimestamp.FilterFor(2))
		require.NoError(t, err)
		assert.Equal(t, []time.Time{at(10)}, own)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_AppendIgnoresConflicts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	row := domain.Observation{SensorID: 1, Timestamp: at(0), TempC: 1}

	for i, want := range []int{1, 0} {
		err := store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
			n, err := s.Append(ctx, []domain.Observation{row})
			require.NoError(t, err)
			assert.Equal(t, want, n, "attempt %d", i)
			return nil
		})
		require.NoError(t, err)
	}

	counts, err := store.ObservationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.ObservationKey]int{{SensorID: 1, Timestamp: at(0)}: 1}, counts)
}

func TestStore_AppendLogsIgnoredRows(t *testing.T) {
	var buf bytes.Buffer
	store := openTestStoreWithLogger(t, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := context.Background()
	rows := []domain.Observation{
		{SensorID: 1, Timestamp: at(0)},
		{SensorID: 1, Timestamp: at(5)},
	}

	for range 2 {
		require.NoError(t, store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
			_, err := s.Append(ctx, rows)
			return err
		}))
	}

	assert.Contains(t, buf.String(), "schema ensured")
	assert.Contains(t, buf.String(), "insert ignored")
	assert.Contains(t, buf.String(), "rows=2")
}

func TestStore_AppendEmptyIsNoop(t *testing.T) {
	store := openTestStore(t)
	err := store.InTx(context.Background(), func(ctx context.Context, s domain.Session) error {
		n, err := s.Append(ctx, nil)
		assert.Zero(t, n)
		return err
	})
	require.NoError(t, err)
}

func TestStore_InTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		_, err := s.Append(ctx, []domain.Observation{{SensorID: 1, Timestamp: at(0)}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	counts, err := store.ObservationCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestStore_AppendUnknownSensorIsWriteError(t *testing.T) {
	store := openTestStore(t)
	err := store.InTx(context.Background(), func(ctx context.Context, s domain.Session) error {
		_, err := s.Append(ctx, []domain.Observation{{SensorID: 99, Timestamp: at(0)}})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWrite)
}

func TestDecodeTime(t *testing.T) {
	want := at(5)
	for _, v := range []any{"2024-01-01 00:05:00", []byte("2024-01-01 00:05:00"), "2024-01-01T00:05:00Z", want.Add(17 * time.Second)} {
		got, err := decodeTime(v)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := decodeTime(int64(5))
	assert.Error(t, err)
	_, err = decodeTime("yesterday")
	assert.Error(t, err)
}
