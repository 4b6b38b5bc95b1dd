package orchestrator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CSVLog appends rows to a CSV file, writing the header when the file is
// first created. Appends from concurrent connections are serialized.
type CSVLog struct {
	mu      sync.Mutex
	path    string
	headers []string
}

func mkOutputDir(outputsRoot string) error {
	return os.MkdirAll(outputsRoot, 0o755)
}

func newCSVLog(outputsRoot, name string, headers []string) (*CSVLog, error) {
	if err := mkOutputDir(outputsRoot); err != nil {
		return nil, err
	}
	return &CSVLog{path: filepath.Join(outputsRoot, name), headers: headers}, nil
}

func NewRecordLog(outputsRoot string) (*CSVLog, error) {
	return newCSVLog(outputsRoot, "emotion_data.csv", recordHeaders)
}

func NewTimingLog(outputsRoot string) (*CSVLog, error) {
	return newCSVLog(outputsRoot, "timing_data.csv", timingHeaders)
}

func (l *CSVLog) Path() string { return l.path }

func (l *CSVLog) Append(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := os.Stat(l.path)
	fresh := errors.Is(err, fs.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(l.headers); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv %s: %w", l.path, err)
	}
	return nil
}

func (l *CSVLog) SaveRecord(r Record) error {
	if r.Timestamp == "" {
		r.Timestamp = time.Now().Format(time.RFC3339)
	}
	return l.Append(r.row())
}

func (l *CSVLog) saveTiming(at time.Time, t Timing) error {
	return l.Append(timingRow(at, t))
}
