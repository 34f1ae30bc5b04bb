// Command genmock writes mock sensor exports into an intake directory and,
// optionally, seeds a SQLite sensor catalog to load them into. Every file is
// read back through the loader's own parser so the fixtures are guaranteed
// to load.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out-dir data/intake \
//	  -sensors North,South,Greenhouse \
//	  -mask _wd \
//	  -sqlite data/weather.db
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-data-loader/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// exportHeader is the header line the sensor vendor's exporter writes.
var exportHeader = []string{
	"Timestamp",
	"Temperature_Celsius(°C)",
	"Relative_Humidity(%)",
	"Dew_Point_Celsius(°C)",
	"VPD(kPa)",
	"Absolute_Humidity(g/m³)",
}

const exportTimeLayout = "Jan 2, 2006 15:04"

type options struct {
	outDir  string
	sensors []string
	mask    string
	start   time.Time
	step    time.Duration
	rows    int
	overlap int
	seed    uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out-dir", "", "intake directory to write CSV files into")
	sensors := flag.String("sensors", "North,South", "comma-separated sensor names")
	mask := flag.String("mask", "_wd", "filename mask placed after the sensor name")
	start := flag.String("start", "2024-01-01T00:00", "first timestamp (UTC, 2006-01-02T15:04)")
	step := flag.Duration("step", 5*time.Minute, "interval between readings")
	rows := flag.Int("rows", 288, "readings per file")
	overlap := flag.Int("overlap", 0, "readings repeated from before -start, to exercise dedup")
	seed := flag.Uint64("seed", 1, "random seed")
	dbPath := flag.String("sqlite", "", "optional SQLite database to create and seed with the sensor catalog")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out-dir")
	}
	startAt, err := time.Parse("2006-01-02T15:04", *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	opts := options{
		outDir:  *outDir,
		sensors: splitNames(*sensors),
		mask:    *mask,
		start:   startAt,
		step:    *step,
		rows:    *rows,
		overlap: *overlap,
		seed:    *seed,
	}
	if len(opts.sensors) == 0 {
		return fmt.Errorf("no sensors given")
	}

	paths, err := generate(opts)
	if err != nil {
		return err
	}
	for i, path := range paths {
		parsed, err := domain.ParseFile(path, int64(i+1))
		if err != nil {
			return fmt.Errorf("generated file does not load: %w", err)
		}
		log.Printf("%s: %d readings", filepath.Base(path), len(parsed))
	}

	if *dbPath != "" {
		if err := seedCatalog(*dbPath, opts.sensors); err != nil {
			return err
		}
		log.Printf("seeded %d sensors into %s", len(opts.sensors), *dbPath)
	}
	return nil
}

// generate writes one file per sensor and returns their paths in sensor order.
func generate(opts options) ([]string, error) {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	paths := make([]string, 0, len(opts.sensors))
	for i, name := range opts.sensors {
		path := filepath.Join(opts.outDir, name+opts.mask+".csv")
		if err := writeSensorFile(path, opts, float64(i), rng); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeSensorFile(path string, opts options, offset float64, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return err
	}
	first := opts.start.Add(-time.Duration(opts.overlap) * opts.step)
	for i := range opts.rows + opts.overlap {
		at := first.Add(time.Duration(i) * opts.step)
		if err := w.Write(reading(at, offset, rng)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// reading produces one plausible row: a daily temperature cycle, humidity
// moving against it, and the derived values computed from both.
func reading(at time.Time, offset float64, rng *rand.Rand) []string {
	hour := float64(at.Hour()) + float64(at.Minute())/60
	temp := 14 + offset + 7*math.Sin((hour-9)/24*2*math.Pi) + rng.NormFloat64()*0.3
	rh := math.Max(5, math.Min(100, 65-2.5*(temp-14-offset)+rng.NormFloat64()*2))

	svp := 0.6108 * math.Exp(17.27*temp/(temp+237.3))
	avp := svp * rh / 100
	dew := 237.3 * math.Log(avp/0.6108) / (17.27 - math.Log(avp/0.6108))
	vpd := svp - avp
	abs := 2165 * avp / (temp + 273.15)

	return []string{
		at.Format(exportTimeLayout),
		strconv.FormatFloat(temp, 'f', 1, 64),
		strconv.FormatFloat(rh, 'f', 0, 64),
		strconv.FormatFloat(dew, 'f', 1, 64),
		strconv.FormatFloat(vpd, 'f', 2, 64),
		strconv.FormatFloat(abs, 'f', 1, 64),
	}
}

func seedCatalog(path string, names []string) error {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.Open(ctx, path, "sensors", "weather_data", logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	sensors := make([]domain.Sensor, len(names))
	for i, name := range names {
		sensors[i] = domain.Sensor{ID: int64(i + 1), Name: name}
	}
	return store.SeedSensors(ctx, sensors)
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
