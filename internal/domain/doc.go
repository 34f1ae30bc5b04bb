// Package domain models sensor-exported weather observations and the rules
// used to load them into storage exactly once.
//
// # Source Files
//
// Each weather station exports a CSV file per period. The sensor is not a
// column of the file; it is encoded in the filename, before a configured
// mask token:
//
//	"North_wd_export.csv" with mask "_wd"  →  candidate sensor "North"
//
// A candidate is resolved against the sensor catalog by literal substring
// containment on the catalog name (see [ResolveSensor]). A candidate that
// matches no sensor, or more than one, is never loaded.
//
// # Row Format
//
// The first line is a header and is always skipped. The six columns are
// positional:
//
//	timestamp, temp_C, rel_humidity_PC, dpt_C, vpd_kPa, abs_humidity_G_M3
//
// Timestamps are rendered by the exporter with a comma after the day:
//
//	"Jan 1, 2024 00:05"  →  2024-01-01T00:05:00 (no zone, minute precision)
//
// Relative humidity is an integer percentage. Exporters occasionally write
// it with a decimal part ("45.0"); the fraction is truncated.
//
// # Deduplication
//
// A row is new when its canonical instant is absent from the timestamps
// already stored. The comparison scope is a [DedupKey]: the whole table
// (KeyTimestamp, the historical behavior) or the file's sensor only
// (KeySensorTimestamp). See [FilterNew].
package domain
