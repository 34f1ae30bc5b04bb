package sqlite

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

type queries struct {
	sensors      string
	observations string

	selectSensors     string
	upsertSensor      string
	insertObservation string
	countObservations string
}

func newQueries(sensorsTable, observationsTable string) queries {
	q := queries{
		sensors:      quoteIdent(sensorsTable),
		observations: quoteIdent(observationsTable),
	}
	q.selectSensors = fmt.Sprintf(`SELECT s_id, s_name FROM %s ORDER BY s_id`, q.sensors)
	q.upsertSensor = fmt.Sprintf(`INSERT INTO %s (s_id, s_name) VALUES (?, ?)
ON CONFLICT (s_id) DO UPDATE SET s_name = excluded.s_name`, q.sensors)
	q.insertObservation = fmt.Sprintf(`INSERT INTO %s ("timestamp", "temp_C", "rel_humidity_PC", "dpt_C", "vpd_kPa", "abs_humidity_G_M3", sensor)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`, q.observations)
	q.countObservations = fmt.Sprintf(`SELECT sensor, "timestamp", count(*) FROM %s GROUP BY sensor, "timestamp"`, q.observations)
	return q
}

func (q *queries) existingTimestamps(filter domain.TimestampFilter) (string, []any) {
	if filter.BySensor {
		return fmt.Sprintf(`SELECT "timestamp" FROM %s WHERE sensor = ?`, q.observations), []any{filter.SensorID}
	}
	return fmt.Sprintf(`SELECT "timestamp" FROM %s`, q.observations), nil
}

func (q *queries) ddl() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    s_id   INTEGER PRIMARY KEY,
    s_name TEXT NOT NULL
)`, q.sensors),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "timestamp"         TEXT NOT NULL,
    "temp_C"            REAL,
    "rel_humidity_PC"   INTEGER,
    "dpt_C"             REAL,
    "vpd_kPa"           REAL,
    "abs_humidity_G_M3" REAL,
    sensor              INTEGER NOT NULL REFERENCES %s (s_id),
    UNIQUE (sensor, "timestamp")
)`, q.observations, q.sensors),
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
