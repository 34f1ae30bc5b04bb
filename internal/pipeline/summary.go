package pipeline

import "time"

// RunStatus is the terminal state of one pass.
type RunStatus string

const (
	StatusCompleted   RunStatus = "completed"
	StatusNothingToDo RunStatus = "completed_nothing_to_do"
	StatusAborted     RunStatus = "aborted"
)

// FileStatus is the outcome of one source file within a pass.
type FileStatus string

const (
	// FileCommitted: new rows (possibly none) were written.
	FileCommitted FileStatus = "committed"
	// FileFailed: the file could not be parsed or written; it stays in intake.
	FileFailed FileStatus = "failed"
	// FileSkipped: no single sensor matched the filename; it stays in intake.
	FileSkipped FileStatus = "skipped"
	// FileNotProcessed: the pass aborted before reaching the file.
	FileNotProcessed FileStatus = "not_processed"
)

// FileResult reports what happened to one source file.
type FileResult struct {
	Path           string     `json:"path"`
	SensorID       int64      `json:"sensor_id,omitempty"`
	SensorName     string     `json:"sensor_name,omitempty"`
	Status         FileStatus `json:"status"`
	Total          int        `json:"total"`
	Appended       int        `json:"appended"`
	AlreadyPresent int        `json:"already_present"`
	Archived       bool       `json:"archived"`
	ArchivePath    string     `json:"archive_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	ArchiveError   string     `json:"archive_error,omitempty"`

	Err        error `json:"-"`
	ArchiveErr error `json:"-"`
}

// Summary reports one pass.
type Summary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Status     RunStatus    `json:"status"`
	DryRun     bool         `json:"dry_run,omitempty"`
	Files      []FileResult `json:"files"`
	Error      string       `json:"error,omitempty"`

	Err error `json:"-"`
}

// Count returns the number of files with the given status.
func (s Summary) Count(status FileStatus) int {
	n := 0
	for _, f := range s.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// RowsAppended is the total number of rows written in the pass.
func (s Summary) RowsAppended() int {
	n := 0
	for _, f := range s.Files {
		n += f.Appended
	}
	return n
}

// HasFailures reports whether any file failed to load.
func (s Summary) HasFailures() bool {
	return s.Count(FileFailed) > 0
}

// File returns the result for path.
func (s Summary) File(path string) (FileResult, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileResult{}, false
}
