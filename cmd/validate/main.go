// Command validate audits a loader deployment for exactly-once delivery: every
// reading in an archived file must be in storage, and no reading may be
// stored twice. Storage settings come from the same environment (and .env
// file) the loader uses.
//
// Usage:
//
//	INTAKE_FILE_MASK=_wd STORE_DRIVER=sqlite DATABASE_URL=data/weather.db \
//	  go run ./cmd/validate -archive-dir data/intake/archive
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/weather-data-loader/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// auditStore is the read side of a loader store.
type auditStore interface {
	Sensors(ctx context.Context) ([]domain.Sensor, error)
	ObservationCounts(ctx context.Context) (map[domain.ObservationKey]int, error)
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// archivedFile is one archived export, parsed.
type archivedFile struct {
	name   string
	sensor domain.Sensor
	rows   []domain.Observation
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	archiveDir := flag.String("archive-dir", cfg.ArchiveDir, "directory of archived source files")
	flag.Parse()

	os.Exit(run(cfg, *archiveDir))
}

func run(cfg *config.Config, archiveDir string) int {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Println("=== Weather Data Exactly-Once Validation ===")
	fmt.Println()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer closeStore()

	sensors, err := store.Sensors(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load sensors: %v\n", err)
		return 1
	}
	counts, err := store.ObservationCounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load observations: %v\n", err)
		return 1
	}

	files, parsePhase, err := loadArchive(archiveDir, cfg.FileMask, sensors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read archive: %v\n", err)
		return 1
	}

	phases := []*phase{
		parsePhase,
		validateNoDuplicates(counts, cfg.DedupKey),
		validateArchivedStored(files, counts, cfg.DedupKey),
	}

	return report(phases, files, counts)
}

func report(phases []*phase, files []archivedFile, counts map[domain.ObservationKey]int) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	readings := 0
	for _, f := range files {
		readings += len(f.rows)
	}
	fmt.Println()
	fmt.Printf("Archive: %d files, %d readings; storage: %d distinct readings\n", len(files), readings, len(counts))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// loadArchive parses every archived CSV whose name still carries mask.
// Files that cannot be attributed or parsed are reported in the phase.
func loadArchive(dir, mask string, sensors []domain.Sensor) ([]archivedFile, *phase, error) {
	p := &phase{name: "Phase 1: Archived files parse"}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var files []archivedFile
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.Contains(name, mask) || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		sensor, err := domain.ResolveSensor(domain.SensorNameFromFile(name, mask), sensors)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		rows, err := domain.ParseFile(filepath.Join(dir, name), sensor.ID)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		files = append(files, archivedFile{name: name, sensor: sensor, rows: rows})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, p, nil
}

// ── Validation phases ──

// validateNoDuplicates checks that storage holds each reading once. Under
// the timestamp key an instant may belong to a single sensor only.
func validateNoDuplicates(counts map[domain.ObservationKey]int, key domain.DedupKey) *phase {
	p := &phase{name: "Phase 2: No duplicate readings"}

	perInstant := make(map[int64][]int64)
	for k, n := range counts {
		if n > 1 {
			p.errorf("sensor %d at %s stored %d times", k.SensorID, k.Timestamp.Format(time.DateTime), n)
		}
		perInstant[k.Timestamp.Unix()] = append(perInstant[k.Timestamp.Unix()], k.SensorID)
	}

	if key == domain.KeyTimestamp {
		for ts, ids := range perInstant {
			if len(ids) > 1 {
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				p.errorf("%s stored for sensors %v", time.Unix(ts, 0).UTC().Format(time.DateTime), ids)
			}
		}
	}
	sort.Strings(p.errors)
	return p
}

// validateArchivedStored checks that every archived reading reached storage.
func validateArchivedStored(files []archivedFile, counts map[domain.ObservationKey]int, key domain.DedupKey) *phase {
	p := &phase{name: "Phase 3: Every archived reading stored"}

	instants := make(map[int64]struct{}, len(counts))
	for k := range counts {
		instants[k.Timestamp.Unix()] = struct{}{}
	}

	for _, f := range files {
		for _, row := range f.rows {
			ts := domain.CanonicalTime(row.Timestamp)
			if _, ok := counts[domain.ObservationKey{SensorID: f.sensor.ID, Timestamp: ts}]; ok {
				continue
			}
			// Under the timestamp key another sensor may own the instant.
			if _, ok := instants[ts.Unix()]; ok && key == domain.KeyTimestamp {
				continue
			}
			p.errorf("%s: %s for sensor %s missing", f.name, ts.Format(time.DateTime), f.sensor.Name)
		}
	}
	return p
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auditStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.NewStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := postgres.NewStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
