package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying pipeline failures. Callers match them with
// errors.Is; adapters wrap them with context.
var (
	// ErrCatalogUnavailable means the sensor catalog or the stored
	// timestamps could not be read. It aborts the whole run.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrUnknownSensor means a filename names no known sensor.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrAmbiguousSensor means a filename matches more than one sensor.
	ErrAmbiguousSensor = errors.New("ambiguous sensor")

	// ErrParse means a row of a source file could not be decoded.
	ErrParse = errors.New("parse error")

	// ErrWrite means appending observations to storage failed.
	ErrWrite = errors.New("write error")

	// ErrArchiveMove means a processed file could not be moved to the archive.
	ErrArchiveMove = errors.New("archive move error")
)

// ParseError locates a decoding failure inside a source file.
type ParseError struct {
	Path   string
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: column %s: %v", e.Path, e.Line, e.Column, e.Err)
}

// Unwrap exposes both ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}
