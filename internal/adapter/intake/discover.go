// Package intake finds sensor export files in the intake directory and moves
// processed files into the archive.
package intake

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// SkippedFile is a candidate file that could not be attributed to a sensor.
// It is left in the intake directory.
type SkippedFile struct {
	Path       string
	SensorName string
	Err        error
}

// Discovery is the outcome of scanning the intake directory.
type Discovery struct {
	Tasks   []domain.FileTask
	Skipped []SkippedFile
}

// Discover lists the CSV files in dir whose name contains mask and resolves
// each to exactly one sensor. Tasks are sorted by path so runs are
// reproducible.
func Discover(dir, mask string, sensors []domain.Sensor, logger *slog.Logger) (Discovery, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Discovery{}, fmt.Errorf("list intake dir: %w", err)
	}

	var d Discovery
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !isCandidate(name, mask) {
			continue
		}
		path := filepath.Join(dir, name)
		candidate := domain.SensorNameFromFile(name, mask)

		sensor, err := domain.ResolveSensor(candidate, sensors)
		if err != nil {
			logger.Warn("file not processed, sensor not resolved",
				"file", name,
				"sensor", candidate,
				"error", err,
			)
			d.Skipped = append(d.Skipped, SkippedFile{Path: path, SensorName: candidate, Err: err})
			continue
		}

		d.Tasks = append(d.Tasks, domain.FileTask{Path: path, SensorID: sensor.ID, SensorName: sensor.Name})
	}

	sort.Slice(d.Tasks, func(i, j int) bool { return d.Tasks[i].Path < d.Tasks[j].Path })
	sort.Slice(d.Skipped, func(i, j int) bool { return d.Skipped[i].Path < d.Skipped[j].Path })
	return d, nil
}

func isCandidate(name, mask string) bool {
	return strings.Contains(name, mask) && strings.EqualFold(filepath.Ext(name), ".csv")
}
