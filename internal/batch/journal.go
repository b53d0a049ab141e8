package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	journalPerm   = 0o644
	maxRecordSize = 16 << 20
)

// RecordStatus is the final status written to the journal.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
)

// Record is one journal line.
type Record struct {
	Index      int             `json:"itemIndex"`
	Status     RecordStatus    `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	RunID      string          `json:"runId"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Journal is the append-only progress log of a batch.
type Journal interface {
	Load(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
}

// FileJournal stores records as JSON lines. Each record is written with a
// single Write call so a crash leaves at most one partial trailing line.
type FileJournal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileJournal opens path for appending, creating it and its directory
// when missing. An unwritable journal is reported here, before any work runs.
func NewFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, journalPerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err = terminateLastLine(file); err != nil {
		file.Close()
		return nil, err
	}

	return &FileJournal{path: path, file: file}, nil
}

// terminateLastLine ends a partial trailing line left by a crashed writer, so
// the next record starts on a line of its own.
func terminateLastLine(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err = file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}

	if _, err = file.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("failed to terminate journal line: %w", err)
	}
	return nil
}

// Load reads every well-formed record. Blank, malformed and partial lines are skipped.
func (j *FileJournal) Load(_ context.Context) ([]Record, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if json.Unmarshal(line, &rec) != nil || rec.Status == "" {
			continue
		}
		records = append(records, rec)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return records, nil
}

// Append writes one record followed by a newline.
func (j *FileJournal) Append(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode journal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err = j.file.Write(line); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// Path returns the journal file path.
func (j *FileJournal) Path() string { return j.path }

// Close closes the underlying file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// MemoryJournal keeps records in memory. Useful for runs that need no resume.
type MemoryJournal struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryJournal(records ...Record) *MemoryJournal {
	return &MemoryJournal{records: append([]Record(nil), records...)}
}

func (j *MemoryJournal) Load(_ context.Context) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Record(nil), j.records...), nil
}

func (j *MemoryJournal) Append(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}
