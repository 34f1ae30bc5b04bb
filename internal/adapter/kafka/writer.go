package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/pipeline"
)

const (
	publishAttempts   = 3
	publishBackoff    = 200 * time.Millisecond
	publishMaxBackoff = 2 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReportPublisher produces one message per finished run to the report topic.
// It implements pipeline.ReportPublisher.
type ReportPublisher struct {
	writer  messageWriter
	logger  *slog.Logger
	backoff time.Duration
}

// NewReportPublisher creates a Kafka producer for the configured report topic.
func NewReportPublisher(cfg *config.Config, logger *slog.Logger) *ReportPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaReportTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newReportPublisher(w, logger)
}

func newReportPublisher(w messageWriter, logger *slog.Logger) *ReportPublisher {
	return &ReportPublisher{writer: w, logger: logger, backoff: publishBackoff}
}

// Publish serializes the run summary and writes it keyed by run ID. Failed
// writes are retried with exponential backoff until the attempts run out or
// ctx is cancelled.
func (p *ReportPublisher) Publish(ctx context.Context, summary pipeline.Summary) error {
	msg, err := serializeSummary(summary)
	if err != nil {
		return err
	}

	backoff := p.backoff
	for attempt := 1; ; attempt++ {
		err = p.writer.WriteMessages(ctx, msg)
		if err == nil {
			break
		}
		if attempt == publishAttempts {
			return fmt.Errorf("publish run report: %w", err)
		}
		p.logger.Warn("run report publish failed, retrying",
			"run_id", summary.RunID, "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("publish run report: %w", ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, publishMaxBackoff)
	}

	p.logger.Debug("run report published", "run_id", summary.RunID, "status", summary.Status)
	return nil
}

func (p *ReportPublisher) Close() error {
	return p.writer.Close()
}

// serializeSummary marshals a run summary into a Kafka message.
func serializeSummary(summary pipeline.Summary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(summary.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(summary.Status)},
			{Key: "finished_at", Value: []byte(summary.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
