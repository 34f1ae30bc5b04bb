package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-data-loader/internal/adapter/intake"
	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
	"github.com/couchcryptid/weather-data-loader/internal/observability"
)

// Store is the relational storage the loader reads from and appends to.
type Store interface {
	Sensors(ctx context.Context) ([]domain.Sensor, error)
	InTx(ctx context.Context, fn func(context.Context, domain.Session) error) error
}

// Archiver moves committed files out of the intake directory.
type Archiver interface {
	Archive(paths []string, archiveDir string) []intake.ArchiveResult
}

// ReportPublisher announces finished passes to downstream consumers.
type ReportPublisher interface {
	Publish(ctx context.Context, summary Summary) error
}

// Options are the per-deployment settings of a Pipeline.
type Options struct {
	IntakeDir  string
	FileMask   string
	ArchiveDir string
	DedupKey   domain.DedupKey
	DryRun     bool
	Clock      clockwork.Clock
}

// OptionsFromConfig maps the service configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IntakeDir:  cfg.IntakeDir,
		FileMask:   cfg.FileMask,
		ArchiveDir: cfg.ArchiveDir,
		DedupKey:   cfg.DedupKey,
		DryRun:     cfg.DryRun,
	}
}

// Pipeline runs discover → load → archive passes over the intake directory.
// Files are handled one at a time, so rows committed for one file are
// visible to the dedup step of the next.
type Pipeline struct {
	store     Store
	archiver  Archiver
	publisher ReportPublisher
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	last      atomic.Pointer[Summary]
}

// New creates a Pipeline. publisher may be nil.
func New(store Store, archiver Archiver, publisher ReportPublisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.DedupKey == "" {
		opts.DedupKey = domain.KeyTimestamp
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		store:     store,
		archiver:  archiver,
		publisher: publisher,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a pass has finished without aborting.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no pass has completed yet")
	}
	return nil
}

// LastRun returns the summary of the most recent pass, if any.
func (p *Pipeline) LastRun() (Summary, bool) {
	s := p.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Run repeats RunOnce every interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("run interval must be positive, got %s", interval)
	}
	p.logger.Info("pipeline started", "interval", interval, "intake_dir", p.opts.IntakeDir)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce performs a single pass and reports its outcome. Catalog and
// listing failures abort the pass; failures of one file never do.
func (p *Pipeline) RunOnce(ctx context.Context) Summary {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	sum := Summary{
		RunID:     uuid.Must(uuid.NewV7()).String(),
		StartedAt: p.clock.Now(),
		DryRun:    p.opts.DryRun,
	}
	logger := p.logger.With("run_id", sum.RunID)

	sensors, err := p.store.Sensors(ctx)
	if err != nil {
		return p.finish(ctx, logger, sum, StatusAborted, err)
	}

	found, err := intake.Discover(p.opts.IntakeDir, p.opts.FileMask, sensors, logger)
	if err != nil {
		return p.finish(ctx, logger, sum, StatusAborted, fmt.Errorf("discover: %w", err))
	}
	for _, s := range found.Skipped {
		sum.Files = append(sum.Files, FileResult{Path: s.Path, Status: FileSkipped, Err: s.Err})
		p.metrics.FilesSkipped.WithLabelValues(skipReason(s.Err)).Inc()
	}

	if len(found.Tasks) == 0 {
		logger.Info("no new files found", "location", filepath.Join(p.opts.IntakeDir, "*"+p.opts.FileMask+"*.csv"))
		return p.finish(ctx, logger, sum, StatusNothingToDo, nil)
	}

	p.metrics.FilesDiscovered.Add(float64(len(found.Tasks)))
	for _, task := range found.Tasks {
		logger.Info("file found", "file", filepath.Base(task.Path), "sensor_id", task.SensorID, "sensor", task.SensorName)
	}
	logger.Info("total files found", "count", len(found.Tasks))

	var abortErr error
	for _, task := range found.Tasks {
		if abortErr == nil {
			if err := ctx.Err(); err != nil {
				abortErr = fmt.Errorf("run cancelled: %w", err)
			}
		}
		if abortErr != nil {
			sum.Files = append(sum.Files, FileResult{
				Path:       task.Path,
				SensorID:   task.SensorID,
				SensorName: task.SensorName,
				Status:     FileNotProcessed,
			})
			continue
		}

		res, err := p.processFile(ctx, logger, task)
		if err != nil {
			abortErr = err
		}
		sum.Files = append(sum.Files, res)
	}

	p.archive(logger, &sum)

	if abortErr != nil {
		return p.finish(ctx, logger, sum, StatusAborted, abortErr)
	}
	return p.finish(ctx, logger, sum, StatusCompleted, nil)
}

// processFile loads one file inside a storage unit of work. The returned
// error is non-nil only when storage itself is unavailable and the pass
// must abort; file-level failures are recorded in the result.
func (p *Pipeline) processFile(ctx context.Context, logger *slog.Logger, task domain.FileTask) (FileResult, error) {
	start := p.clock.Now()
	res := FileResult{Path: task.Path, SensorID: task.SensorID, SensorName: task.SensorName}
	name := filepath.Base(task.Path)
	logger.Info("processing file", "file", name)

	err := p.store.InTx(ctx, func(ctx context.Context, s domain.Session) error {
		stored, err := s.ExistingTimestamps(ctx, p.opts.DedupKey.FilterFor(task.SensorID))
		if err != nil {
			return classify(domain.ErrCatalogUnavailable, err)
		}
		existing := domain.NewTimestampSet(stored)
		logger.Debug("existing observations loaded", "file", name, "count", existing.Len())

		rows, err := domain.ParseFile(task.Path, task.SensorID)
		if err != nil {
			return err
		}
		res.Total = len(rows)

		fresh, present := domain.FilterNew(rows, existing)
		res.AlreadyPresent = present
		if p.opts.DryRun {
			res.Appended = len(fresh)
			return nil
		}

		written, err := s.Append(ctx, fresh)
		if err != nil {
			return classify(domain.ErrWrite, err)
		}
		res.Appended = written
		// Rows rejected by the unique constraint were stored by someone else.
		res.AlreadyPresent += len(fresh) - written
		return nil
	})

	p.metrics.RowsParsed.Add(float64(res.Total))

	if errors.Is(err, domain.ErrCatalogUnavailable) {
		logger.Error("storage unavailable, aborting run", "file", name, "error", err)
		res.Status = FileNotProcessed
		res.Err = err
		res.Total, res.Appended, res.AlreadyPresent = 0, 0, 0
		return res, err
	}
	if err != nil {
		logger.Error("file failed", "file", name, "error", err)
		res.Status = FileFailed
		res.Err = err
		res.Appended, res.AlreadyPresent = 0, 0
		p.metrics.FilesFailed.WithLabelValues(failReason(err)).Inc()
		return res, nil
	}

	res.Status = FileCommitted
	p.metrics.FilesCommitted.Inc()
	p.metrics.RowsAppended.Add(float64(res.Appended))
	p.metrics.RowsAlreadyPresent.Add(float64(res.AlreadyPresent))
	logger.Info("file loaded",
		"file", name,
		"rows_total", res.Total,
		"rows_appended", res.Appended,
		"rows_already_present", res.AlreadyPresent,
		"dry_run", p.opts.DryRun,
		"duration", p.clock.Since(start),
	)
	return res, nil
}

// archive moves every committed file. Failed and skipped files stay in the
// intake directory for a later pass or manual review.
func (p *Pipeline) archive(logger *slog.Logger, sum *Summary) {
	var paths []string
	for _, f := range sum.Files {
		if f.Status == FileCommitted {
			paths = append(paths, f.Path)
		}
	}
	if len(paths) == 0 {
		return
	}
	if p.opts.DryRun {
		logger.Info("dry-run: skipping archive", "files", len(paths))
		return
	}

	bySource := make(map[string]intake.ArchiveResult, len(paths))
	for _, r := range p.archiver.Archive(paths, p.opts.ArchiveDir) {
		bySource[r.Source] = r
	}
	for i := range sum.Files {
		f := &sum.Files[i]
		r, ok := bySource[f.Path]
		if !ok || f.Status != FileCommitted {
			continue
		}
		if r.Err != nil {
			f.ArchiveErr = r.Err
			p.metrics.ArchiveErrors.Inc()
			continue
		}
		f.Archived = true
		f.ArchivePath = r.Target
	}
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, sum Summary, status RunStatus, err error) Summary {
	sum.Status = status
	sum.Err = err
	if err != nil {
		sum.Error = err.Error()
	}
	sum.FinishedAt = p.clock.Now()
	for i := range sum.Files {
		if sum.Files[i].Err != nil {
			sum.Files[i].Error = sum.Files[i].Err.Error()
		}
		if sum.Files[i].ArchiveErr != nil {
			sum.Files[i].ArchiveError = sum.Files[i].ArchiveErr.Error()
		}
	}

	p.metrics.Runs.WithLabelValues(string(status)).Inc()
	p.metrics.RunDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	if status != StatusAborted {
		p.ready.Store(true)
	}
	p.last.Store(&sum)

	attrs := []any{
		"status", status,
		"committed", sum.Count(FileCommitted),
		"failed", sum.Count(FileFailed),
		"skipped", sum.Count(FileSkipped),
		"rows_appended", sum.RowsAppended(),
		"duration", sum.FinishedAt.Sub(sum.StartedAt),
	}
	if err != nil {
		logger.Error("run aborted", append(attrs, "error", err)...)
	} else {
		logger.Info("run finished", attrs...)
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, sum); err != nil {
			logger.Warn("publish run report failed", "error", err)
		}
	}
	return sum
}

// classify tags err with kind unless an adapter already did.
func classify(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func skipReason(err error) string {
	if errors.Is(err, domain.ErrAmbiguousSensor) {
		return "ambiguous_sensor"
	}
	return "unknown_sensor"
}

func failReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, domain.ErrWrite):
		return "write"
	default:
		return "other"
	}
}
