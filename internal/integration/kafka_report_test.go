//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-data-loader/internal/adapter/intake"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/kafka"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
	"github.com/couchcryptid/weather-data-loader/internal/observability"
	"github.com/couchcryptid/weather-data-loader/internal/pipeline"
)

const testReportTopic = "test-ingest-runs"

// TestRunReportPublished loads a file into SQLite and checks that the run
// report arrives on the report topic keyed by run ID.
func TestRunReportPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testReportTopic)

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "weather.db"), "sensors", "weather_data", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.SeedSensors(ctx, []domain.Sensor{{ID: 1, Name: "Sensor1"}}))

	dir := t.TempDir()
	writeCSV(t, dir, "Sensor1_obs.csv", `"Jan 1, 2024 00:00",20.0,50,9.3,1.17,8.6`)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaReportTopic: testReportTopic}
	publisher := kafka.NewReportPublisher(cfg, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	p := pipeline.New(store, intake.NewArchiver(nil, discardLogger()), publisher, pipeline.Options{
		IntakeDir:  dir,
		FileMask:   "_obs",
		ArchiveDir: filepath.Join(dir, "archive"),
	}, discardLogger(), observability.NewMetricsForTesting())

	sum := p.RunOnce(ctx)
	require.Equal(t, pipeline.StatusCompleted, sum.Status)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testReportTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer consumer.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from report topic")

	assert.Equal(t, sum.RunID, string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "completed", headers["status"])
	assert.Equal(t, sum.FinishedAt.Format(time.RFC3339), headers["finished_at"])

	var report pipeline.Summary
	require.NoError(t, json.Unmarshal(msg.Value, &report))
	assert.Equal(t, sum.RunID, report.RunID)
	require.Len(t, report.Files, 1)
	assert.Equal(t, 1, report.Files[0].Appended)
	assert.True(t, report.Files[0].Archived)
}
