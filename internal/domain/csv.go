package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// timestampLayout is the exporter's format once the comma is removed,
	// e.g. "Jan 1 2024 00:05".
	timestampLayout        = "Jan 2 2006 15:04"
	timestampLayoutSeconds = "Jan 2 2006 15:04:05"
)

// Columns lists the positional schema of a source file.
var Columns = [...]string{
	"timestamp",
	"temp_C",
	"rel_humidity_PC",
	"dpt_C",
	"vpd_kPa",
	"abs_humidity_G_M3",
}

// CSVSource reads the data rows of one exported file. The sequence returned
// by Rows is lazy and can be ranged over any number of times; each pass
// reopens the file.
type CSVSource struct {
	Path string
}

// Rows yields every data row after the header. Iteration stops at the first
// error, which is yielded with a zero row.
func (s CSVSource) Rows() iter.Seq2[RawObservationRow, error] {
	return func(yield func(RawObservationRow, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(RawObservationRow{}, fmt.Errorf("open source file: %w", err))
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		r.ReuseRecord = true

		header := true
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				line := 0
				var csvErr *csv.ParseError
				if errors.As(err, &csvErr) {
					line = csvErr.Line
				}
				yield(RawObservationRow{}, &ParseError{Path: s.Path, Line: line, Err: err})
				return
			}
			line, _ := r.FieldPos(0)
			if header {
				header = false
				continue
			}

			row, err := decodeRow(s.Path, line, rec)
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

func decodeRow(path string, line int, rec []string) (RawObservationRow, error) {
	if len(rec) != len(Columns) {
		return RawObservationRow{}, &ParseError{
			Path: path,
			Line: line,
			Err:  fmt.Errorf("expected %d columns, got %d", len(Columns), len(rec)),
		}
	}

	row := RawObservationRow{Line: line, Timestamp: rec[0]}
	targets := []*float64{&row.TempC, &row.RelHumidityPC, &row.DewPointC, &row.VPDkPa, &row.AbsHumidityGM3}
	for i, dst := range targets {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return RawObservationRow{}, &ParseError{Path: path, Line: line, Column: Columns[i+1], Err: err}
		}
		*dst = v
	}
	return row, nil
}

// ParseTimestamp converts exporter text such as "Jan 1, 2024 00:05" to an
// instant. The result carries no zone (UTC wall clock) and is truncated to
// the minute.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, ",", "")), " ")
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		var errSec error
		t, errSec = time.Parse(timestampLayoutSeconds, s)
		if errSec != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	return CanonicalTime(t), nil
}

// CanonicalTime maps t to the form used for comparisons and storage: the
// wall clock read as UTC, seconds and below dropped.
func CanonicalTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// Normalize converts a raw row into an Observation for sensorID.
func Normalize(path string, raw RawObservationRow, sensorID int64) (Observation, error) {
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return Observation{}, &ParseError{Path: path, Line: raw.Line, Column: Columns[0], Err: err}
	}
	if math.IsNaN(raw.RelHumidityPC) || math.IsInf(raw.RelHumidityPC, 0) ||
		raw.RelHumidityPC > math.MaxInt32 || raw.RelHumidityPC < math.MinInt32 {
		return Observation{}, &ParseError{
			Path:   path,
			Line:   raw.Line,
			Column: Columns[2],
			Err:    fmt.Errorf("humidity %v out of range", raw.RelHumidityPC),
		}
	}

	return Observation{
		SensorID:       sensorID,
		Timestamp:      ts,
		TempC:          raw.TempC,
		RelHumidityPC:  int32(math.Trunc(raw.RelHumidityPC)),
		DewPointC:      raw.DewPointC,
		VPDkPa:         raw.VPDkPa,
		AbsHumidityGM3: raw.AbsHumidityGM3,
	}, nil
}

// ParseFile reads and normalizes every data row of path. Any bad row fails
// the whole file.
func ParseFile(path string, sensorID int64) ([]Observation, error) {
	var out []Observation
	for raw, err := range (CSVSource{Path: path}).Rows() {
		if err != nil {
			return nil, err
		}
		obs, err := Normalize(path, raw, sensorID)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}
