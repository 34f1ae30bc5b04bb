//go:build integration

package integration_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-data-loader/internal/adapter/intake"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
	"github.com/couchcryptid/weather-data-loader/internal/observability"
	"github.com/couchcryptid/weather-data-loader/internal/pipeline"
)

func openPostgresStore(ctx context.Context, t *testing.T, url string) *postgres.Store {
	t.Helper()
	cfg := &config.Config{
		DatabaseURL:       url,
		DBSchema:          "weather",
		SensorsTable:      "sensors",
		ObservationsTable: "weather_data",
	}
	store, err := postgres.NewStore(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func minute(m int) time.Time {
	return time.Date(2024, 1, 1, 0, m, 0, 0, time.UTC)
}

// TestPostgresPipeline runs a full pass against PostgreSQL: one file appends
// only its new reading, a second file fails on an unknown sensor id and is
// left behind.
func TestPostgresPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := openPostgresStore(ctx, t, startPostgres(ctx, t))
	require.NoError(t, store.SeedSensors(ctx, []domain.Sensor{{ID: 1, Name: "Sensor1"}}))
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		_, err := s.Append(ctx, []domain.Observation{{SensorID: 1, Timestamp: minute(0), TempC: 20, RelHumidityPC: 50}})
		return err
	}))

	dir := t.TempDir()
	loaded := writeCSV(t, dir, "Sensor1_obs.csv",
		`"Jan 1, 2024 00:00",20.0,50,9.3,1.17,8.6`,
		`"Jan 1, 2024 00:05",20.1,51,9.5,1.15,8.8`,
	)

	opts := pipeline.Options{
		IntakeDir:  dir,
		FileMask:   "_obs",
		ArchiveDir: filepath.Join(dir, "archive"),
		DedupKey:   domain.KeyTimestamp,
	}
	p := pipeline.New(store, intake.NewArchiver(nil, discardLogger()), nil, opts, discardLogger(), observability.NewMetricsForTesting())

	sum := p.RunOnce(ctx)
	require.Equal(t, pipeline.StatusCompleted, sum.Status)
	res, ok := sum.File(loaded)
	require.True(t, ok)
	assert.Equal(t, pipeline.FileCommitted, res.Status)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Appended)
	assert.Equal(t, 1, res.AlreadyPresent)
	assert.True(t, res.Archived)
	assert.NoFileExists(t, loaded)

	counts, err := store.ObservationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.ObservationKey]int{
		{SensorID: 1, Timestamp: minute(0)}: 1,
		{SensorID: 1, Timestamp: minute(5)}: 1,
	}, counts)
}

func TestPostgresStore_ForeignKeyFailureRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := openPostgresStore(ctx, t, startPostgres(ctx, t))
	require.NoError(t, store.SeedSensors(ctx, []domain.Sensor{{ID: 1, Name: "Sensor1"}}))

	err := store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		_, err := s.Append(ctx, []domain.Observation{
			{SensorID: 1, Timestamp: minute(0)},
			{SensorID: 99, Timestamp: minute(5)},
		})
		return err
	})
	require.ErrorIs(t, err, domain.ErrWrite)

	counts, err := store.ObservationCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

// TestPostgresStore_ConcurrentLoadersExactlyOnce runs two loaders over
// copies of the same export at once. The advisory lock serializes their
// units of work, so each reading is appended by exactly one of them.
func TestPostgresStore_ConcurrentLoadersExactlyOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := startPostgres(ctx, t)
	seed := openPostgresStore(ctx, t, url)
	require.NoError(t, seed.SeedSensors(ctx, []domain.Sensor{{ID: 1, Name: "Sensor1"}}))

	rows := make([]string, 0, 60)
	for m := range 60 {
		rows = append(rows, minute(m).Format(`"Jan 2, 2006 15:04"`)+",20.0,50,9.3,1.17,8.6")
	}

	const loaders = 2
	summaries := make([]pipeline.Summary, loaders)
	var wg sync.WaitGroup
	for i := range loaders {
		dir := t.TempDir()
		writeCSV(t, dir, "Sensor1_obs.csv", rows...)
		store := openPostgresStore(ctx, t, url)
		p := pipeline.New(store, intake.NewArchiver(nil, discardLogger()), nil, pipeline.Options{
			IntakeDir:  dir,
			FileMask:   "_obs",
			ArchiveDir: filepath.Join(dir, "archive"),
			DedupKey:   domain.KeySensorTimestamp,
		}, discardLogger(), observability.NewMetricsForTesting())

		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[i] = p.RunOnce(ctx)
		}()
	}
	wg.Wait()

	total := 0
	for _, s := range summaries {
		require.Equal(t, pipeline.StatusCompleted, s.Status)
		total += s.RowsAppended()
	}
	assert.Equal(t, 60, total)

	counts, err := seed.ObservationCounts(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, 60)
	for k, n := range counts {
		assert.Equal(t, 1, n, "reading %v", k)
	}
}
