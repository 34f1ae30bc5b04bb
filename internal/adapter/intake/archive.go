package intake

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// stampLayout is the second-precision suffix added to archived names.
const stampLayout = "20060102150405"

// ArchiveResult reports where a file was moved, or why it was not.
type ArchiveResult struct {
	Source string
	Target string
	Err    error
}

// Archiver moves processed files into an archive directory without ever
// overwriting an earlier archive.
type Archiver struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewArchiver creates an Archiver. Pass nil to use the real clock.
func NewArchiver(clock clockwork.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Archiver{clock: clock, logger: logger}
}

// Archive creates archiveDir if needed and moves each path into it as
// "<stem>_<YYYYMMDDHHMMSS><ext>". If that name is taken a "-N" counter is
// added. A failure on one file does not stop the others.
func (a *Archiver) Archive(paths []string, archiveDir string) []ArchiveResult {
	results := make([]ArchiveResult, 0, len(paths))
	if len(paths) == 0 {
		return results
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		for _, p := range paths {
			results = append(results, ArchiveResult{
				Source: p,
				Err:    fmt.Errorf("%w: create archive dir: %w", domain.ErrArchiveMove, err),
			})
		}
		a.logger.Error("archive dir unavailable", "dir", archiveDir, "error", err)
		return results
	}

	stamp := a.clock.Now().Format(stampLayout)
	for _, src := range paths {
		res := ArchiveResult{Source: src}
		target, err := a.move(src, archiveDir, stamp)
		if err != nil {
			res.Err = fmt.Errorf("%w: %w", domain.ErrArchiveMove, err)
			a.logger.Error("archive failed", "file", filepath.Base(src), "error", err)
		} else {
			res.Target = target
			a.logger.Info("archived", "file", filepath.Base(src), "archived_as", filepath.Base(target))
		}
		results = append(results, res)
	}
	return results
}

// move claims the first free archive name for src. A name is claimed with
// os.Link, or an O_EXCL create when linking is not possible; both fail if the
// name exists, so concurrent archivers never overwrite each other.
func (a *Archiver) move(src, archiveDir, stamp string) (string, error) {
	for n := 0; ; n++ {
		target := archiveName(src, archiveDir, stamp, n)
		err := claim(src, target)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return target, nil
	}
}

// archiveName is "<stem>_<stamp><ext>", with "-n" after the stamp for n > 0.
func archiveName(src, archiveDir, stamp string, n int) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + "_" + stamp
	if n > 0 {
		name += "-" + strconv.Itoa(n)
	}
	return filepath.Join(archiveDir, name+ext)
}

func claim(src, target string) error {
	err := os.Link(src, target)
	if err == nil {
		return os.Remove(src)
	}
	if errors.Is(err, os.ErrExist) {
		return err
	}
	// Cross-device, or the filesystem has no hard links.
	return copyThenRemove(src, target)
}

func copyThenRemove(src, target string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(target)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return err
	}
	return os.Remove(src)
}
