// Package postgres implements the loader's storage on PostgreSQL with pgx.
package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// Store reads the sensor catalog and appends observations.
// It implements pipeline.Store.
type Store struct {
	pool    *pgxpool.Pool
	q       queries
	lockKey int64
	logger  *slog.Logger
}

// NewStore connects to cfg.DatabaseURL and verifies the connection.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrCatalogUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", domain.ErrCatalogUnavailable, err)
	}
	return newStore(pool, cfg.DBSchema, cfg.SensorsTable, cfg.ObservationsTable, logger), nil
}

func newStore(pool *pgxpool.Pool, schema, sensorsTable, observationsTable string, logger *slog.Logger) *Store {
	q := newQueries(schema, sensorsTable, observationsTable)
	return &Store{pool: pool, q: q, lockKey: advisoryKey(q.observations), logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the schema, tables and unique index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.q.ddl() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info("schema ensured", "observations", s.q.observations)
	return nil
}

// Sensors returns the whole sensor catalog.
func (s *Store) Sensors(ctx context.Context) ([]domain.Sensor, error) {
	rows, err := s.pool.Query(ctx, s.q.selectSensors)
	if err != nil {
		return nil, fmt.Errorf("%w: query sensors: %w", domain.ErrCatalogUnavailable, err)
	}
	sensors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sensor, error) {
		var sensor domain.Sensor
		err := row.Scan(&sensor.ID, &sensor.Name)
		return sensor, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan sensors: %w", domain.ErrCatalogUnavailable, err)
	}
	return sensors, nil
}

// SeedSensors inserts or renames catalog entries. The loader itself never
// writes the catalog; tooling and tests do.
func (s *Store) SeedSensors(ctx context.Context, sensors []domain.Sensor) error {
	if len(sensors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sensor := range sensors {
		batch.Queue(s.q.upsertSensor, sensor.ID, sensor.Name)
	}
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range sensors {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("seed sensors: %w", err)
		}
	}
	return nil
}

// ObservationCounts returns how many rows are stored per sensor and instant.
func (s *Store) ObservationCounts(ctx context.Context) (map[domain.ObservationKey]int, error) {
	rows, err := s.pool.Query(ctx, s.q.countObservations)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ObservationKey]int)
	for rows.Next() {
		var (
			key domain.ObservationKey
			n   int
		)
		if err := rows.Scan(&key.SensorID, &key.Timestamp, &n); err != nil {
			return nil, fmt.Errorf("count observations: %w", err)
		}
		key.Timestamp = domain.CanonicalTime(key.Timestamp)
		counts[key] += n
	}
	return counts, rows.Err()
}

// InTx runs fn in a transaction holding an advisory lock on the
// observations table, so concurrent loaders serialize their
// read-dedup-append windows. The transaction commits only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, domain.Session) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrCatalogUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockKey); err != nil {
		return fmt.Errorf("%w: advisory lock: %w", domain.ErrCatalogUnavailable, err)
	}

	if err := fn(ctx, &session{tx: tx, q: &s.q, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrWrite, err)
	}
	return nil
}

type session struct {
	tx     pgx.Tx
	q      *queries
	logger *slog.Logger
}

func (s *session) ExistingTimestamps(ctx context.Context, filter domain.TimestampFilter) ([]time.Time, error) {
	query, args := s.q.existingTimestamps(filter)
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query timestamps: %w", domain.ErrCatalogUnavailable, err)
	}
	ts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("%w: scan timestamps: %w", domain.ErrCatalogUnavailable, err)
	}
	return ts, nil
}

func (s *session) Append(ctx context.Context, rows []domain.Observation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, o := range rows {
		batch.Queue(s.q.insertObservation,
			o.Timestamp, o.TempC, o.RelHumidityPC, o.DewPointC, o.VPDkPa, o.AbsHumidityGM3, o.SensorID)
	}

	res := s.tx.SendBatch(ctx, batch)
	written := 0
	for range rows {
		tag, err := res.Exec()
		if err != nil {
			res.Close()
			return 0, fmt.Errorf("%w: insert observations: %w", domain.ErrWrite, err)
		}
		written += int(tag.RowsAffected())
	}
	if err := res.Close(); err != nil {
		return 0, fmt.Errorf("%w: insert observations: %w", domain.ErrWrite, err)
	}
	if ignored := len(rows) - written; ignored > 0 {
		s.logger.Debug("rows already stored, insert ignored", "rows", ignored)
	}
	return written, nil
}

// advisoryKey derives a stable lock id from the observations table name.
func advisoryKey(table string) int64 {
	h := fnv.New64a()
	h.Write([]byte("weather-data-loader:" + table))
	return int64(h.Sum64())
}
