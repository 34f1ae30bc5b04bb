// Package sqlite implements the loader's storage on a local SQLite file
// using the pure-Go modernc.org/sqlite driver. It suits single-host
// deployments and tests.
//
// SQLite has no schemas: DB_SCHEMA is ignored and tables live in the main
// database. Timestamps are stored as "YYYY-MM-DD HH:MM:SS" text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Store reads the sensor catalog and appends observations.
// It implements pipeline.Store.
type Store struct {
	db     *sql.DB
	q      queries
	logger *slog.Logger
}

// NewStore opens the database file at cfg.DatabaseURL, creating parent
// directories as needed.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	return Open(ctx, cfg.DatabaseURL, cfg.SensorsTable, cfg.ObservationsTable, logger)
}

// Open opens path with WAL journaling and immediate-mode transactions, so a
// transaction takes the write lock before its first read.
func Open(ctx context.Context, path, sensorsTable, observationsTable string, logger *slog.Logger) (*Store, error) {
	path = strings.TrimPrefix(path, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %w", domain.ErrCatalogUnavailable, err)
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", domain.ErrCatalogUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", domain.ErrCatalogUnavailable, err)
	}
	return &Store{db: db, q: newQueries(sensorsTable, observationsTable), logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables and unique index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.q.ddl() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info("schema ensured", "observations", s.q.observations)
	return nil
}

// Sensors returns the whole sensor catalog.
func (s *Store) Sensors(ctx context.Context) ([]domain.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, s.q.selectSensors)
	if err != nil {
		return nil, fmt.Errorf("%w: query sensors: %w", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var sensors []domain.Sensor
	for rows.Next() {
		var sensor domain.Sensor
		if err := rows.Scan(&sensor.ID, &sensor.Name); err != nil {
			return nil, fmt.Errorf("%w: scan sensors: %w", domain.ErrCatalogUnavailable, err)
		}
		sensors = append(sensors, sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan sensors: %w", domain.ErrCatalogUnavailable, err)
	}
	return sensors, nil
}

// SeedSensors inserts or renames catalog entries. The loader itself never
// writes the catalog; tooling and tests do.
func (s *Store) SeedSensors(ctx context.Context, sensors []domain.Sensor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed sensors: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, sensor := range sensors {
		if _, err := tx.ExecContext(ctx, s.q.upsertSensor, sensor.ID, sensor.Name); err != nil {
			return fmt.Errorf("seed sensors: %w", err)
		}
	}
	return tx.Commit()
}

// ObservationCounts returns how many rows are stored per sensor and instant.
func (s *Store) ObservationCounts(ctx context.Context) (map[domain.ObservationKey]int, error) {
	rows, err := s.db.QueryContext(ctx, s.q.countObservations)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ObservationKey]int)
	for rows.Next() {
		var (
			sensorID int64
			raw      any
			n        int
		)
		if err := rows.Scan(&sensorID, &raw, &n); err != nil {
			return nil, fmt.Errorf("count observations: %w", err)
		}
		ts, err := decodeTime(raw)
		if err != nil {
			return nil, fmt.Errorf("count observations: %w", err)
		}
		counts[domain.ObservationKey{SensorID: sensorID, Timestamp: ts}] += n
	}
	return counts, rows.Err()
}

// InTx runs fn in an immediate transaction, which holds the database write
// lock from the first statement. The transaction commits only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, domain.Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrCatalogUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &session{tx: tx, q: &s.q, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrWrite, err)
	}
	return nil
}

type session struct {
	tx     *sql.Tx
	q      *queries
	logger *slog.Logger
}

func (s *session) ExistingTimestamps(ctx context.Context, filter domain.TimestampFilter) ([]time.Time, error) {
	query, args := s.q.existingTimestamps(filter)
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query timestamps: %w", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: scan timestamps: %w", domain.ErrCatalogUnavailable, err)
		}
		ts, err := decodeTime(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan timestamps: %w", domain.ErrCatalogUnavailable, err)
	}
	return out, nil
}

func (s *session) Append(ctx context.Context, rows []domain.Observation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt, err := s.tx.PrepareContext(ctx, s.q.insertObservation)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare insert: %w", domain.ErrWrite, err)
	}
	defer stmt.Close()

	written := 0
	for _, o := range rows {
		res, err := stmt.ExecContext(ctx,
			o.Timestamp.UTC().Format(timeLayout), o.TempC, o.RelHumidityPC, o.DewPointC, o.VPDkPa, o.AbsHumidityGM3, o.SensorID)
		if err != nil {
			return 0, fmt.Errorf("%w: insert observation: %w", domain.ErrWrite, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: insert observation: %w", domain.ErrWrite, err)
		}
		written += int(n)
	}
	if ignored := len(rows) - written; ignored > 0 {
		s.logger.Debug("rows already stored, insert ignored", "rows", ignored)
	}
	return written, nil
}

// decodeTime accepts the text layout this package writes as well as values
// the driver already converted to time.Time.
func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return domain.CanonicalTime(t), nil
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.CanonicalTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
