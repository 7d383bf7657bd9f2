// Package runlog persists a batch run: an append-only results.jsonl with one
// self-contained record per line, and summary.json when the run finishes.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/ppiankov/policyrag/internal/model"
)

// File names inside a run directory
const (
	ResultsFile = "results.jsonl"
	SummaryFile = "summary.json"
	ConfigFile  = "run_config.json"
)

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// Writer appends records to results.jsonl. Write is safe for concurrent use;
// each record is one write of one full line.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	runID string
	path  string
}

// Open creates dir if needed and opens its results file for appending
func Open(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	path := filepath.Join(dir, ResultsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	if runID == "" {
		runID = NewRunID()
	}
	return &Writer{file: f, runID: runID, path: path}, nil
}

// RunID returns the id stamped on records that do not carry one
func (w *Writer) RunID() string { return w.runID }

// Path returns the results file path
func (w *Writer) Path() string { return w.path }

// Write appends rec as one JSON line
func (w *Writer) Write(rec *model.ResponseRecord) error {
	if rec.RunID == "" {
		rec.RunID = w.runID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.QueryID, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write record %s: %w", rec.QueryID, err)
	}
	return nil
}

// Close syncs and closes the results file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var result *multierror.Error
	if err := w.file.Sync(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sync results: %w", err))
	}
	if err := w.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close results: %w", err))
	}
	return result.ErrorOrNil()
}

// ReadResults loads every parseable record from a results file. Lines that do
// not parse, such as a line cut short when a run was killed, are skipped and
// counted. A missing file yields no records and no error.
func ReadResults(path string) (records []*model.ResponseRecord, skipped int, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open results: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.ResponseRecord
		if json.Unmarshal(line, &rec) != nil || rec.QueryID == "" {
			skipped++
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("scan results: %w", err)
	}
	return records, skipped, nil
}

// Pending drops the queries that already have a record, so re-running a
// cancelled batch only processes what is missing
func Pending(queries []model.Query, done []*model.ResponseRecord) []model.Query {
	seen := make(map[string]bool, len(done))
	for _, r := range done {
		seen[r.QueryID] = true
	}
	out := make([]model.Query, 0, len(queries))
	for _, q := range queries {
		if !seen[q.QueryID] {
			out = append(out, q)
		}
	}
	return out
}

// Dedupe keeps the last record written for each query id, at the position
// where that id first appeared
func Dedupe(records []*model.ResponseRecord) []*model.ResponseRecord {
	pos := make(map[string]int, len(records))
	out := make([]*model.ResponseRecord, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.QueryID]; ok {
			out[i] = r
			continue
		}
		pos[r.QueryID] = len(out)
		out = append(out, r)
	}
	return out
}

// WriteJSON writes v as indented JSON to dir/name
func WriteJSON(dir, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
