package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// queries holds the SQL for one configured schema and table pair. Table
// names come from configuration, so they are quoted with pgx.Identifier.
type queries struct {
	schema       string
	sensors      string
	observations string

	selectSensors     string
	upsertSensor      string
	insertObservation string
	countObservations string
}

func newQueries(schema, sensorsTable, observationsTable string) queries {
	q := queries{
		schema:       pgx.Identifier{schema}.Sanitize(),
		sensors:      pgx.Identifier{schema, sensorsTable}.Sanitize(),
		observations: pgx.Identifier{schema, observationsTable}.Sanitize(),
	}

	q.selectSensors = fmt.Sprintf(`SELECT s_id, s_name FROM %s ORDER BY s_id`, q.sensors)
	q.upsertSensor = fmt.Sprintf(`INSERT INTO %s (s_id, s_name) VALUES ($1, $2)
ON CONFLICT (s_id) DO UPDATE SET s_name = EXCLUDED.s_name`, q.sensors)
	q.insertObservation = fmt.Sprintf(`INSERT INTO %s ("timestamp", "temp_C", "rel_humidity_PC", "dpt_C", "vpd_kPa", "abs_humidity_G_M3", sensor)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING`, q.observations)
	q.countObservations = fmt.Sprintf(`SELECT sensor, "timestamp", count(*) FROM %s GROUP BY sensor, "timestamp"`, q.observations)
	return q
}

func (q *queries) existingTimestamps(filter domain.TimestampFilter) (string, []any) {
	if filter.BySensor {
		return fmt.Sprintf(`SELECT "timestamp" FROM %s WHERE sensor = $1`, q.observations), []any{filter.SensorID}
	}
	return fmt.Sprintf(`SELECT "timestamp" FROM %s`, q.observations), nil
}

func (q *queries) ddl() []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, q.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    s_id   BIGINT PRIMARY KEY,
    s_name TEXT NOT NULL
)`, q.sensors),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "timestamp"         TIMESTAMP NOT NULL,
    "temp_C"            DOUBLE PRECISION,
    "rel_humidity_PC"   INTEGER,
    "dpt_C"             DOUBLE PRECISION,
    "vpd_kPa"           DOUBLE PRECISION,
    "abs_humidity_G_M3" DOUBLE PRECISION,
    sensor              BIGINT NOT NULL REFERENCES %s (s_id),
    UNIQUE (sensor, "timestamp")
)`, q.observations, q.sensors),
	}
}
