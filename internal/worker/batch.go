package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
)

// Answerer runs the reliability pipeline for one query
type Answerer interface {
	Answer(ctx context.Context, q model.Query) (*model.ResponseRecord, error)
}

// Sink receives each record as soon as its query finishes. It is called
// concurrently from the workers.
type Sink func(rec *model.ResponseRecord) error

// QueryJob runs one query
type QueryJob struct {
	Query    model.Query
	Answerer Answerer
	Sink     Sink
}

// Execute runs the query and hands the record to the sink
func (j *QueryJob) Execute(ctx context.Context) *QueryResult {
	rec, err := j.Answerer.Answer(ctx, j.Query)
	if err != nil {
		return &QueryResult{Query: j.Query, Error: err}
	}
	if j.Sink != nil {
		if err := j.Sink(rec); err != nil {
			return &QueryResult{Query: j.Query, Record: rec, Error: fmt.Errorf("write %s: %w", j.Query.QueryID, err)}
		}
	}
	return &QueryResult{Query: j.Query, Record: rec}
}

// QueryResult is the outcome of one QueryJob
type QueryResult struct {
	Query  model.Query
	Record *model.ResponseRecord
	Error  error

	index int
}

// GetError returns the job error. A query recorded with answer ERROR is not a
// job error: the failure is part of its record.
func (r *QueryResult) GetError() error {
	return r.Error
}

// BatchProcessor answers many queries concurrently
type BatchProcessor struct {
	answerer    Answerer
	concurrency int
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor(answerer Answerer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		answerer:    answerer,
		concurrency: concurrency,
	}
}

// ProcessQueries answers queries and returns the results in completion order.
// One query's failure never stops the others. When ctx ends early, every
// query without a result gets one carrying the context error.
func (b *BatchProcessor) ProcessQueries(ctx context.Context, queries []model.Query, sink Sink) []*QueryResult {
	if len(queries) == 0 {
		return []*QueryResult{}
	}

	pool := NewPool[*QueryResult](ctx, b.concurrency)
	pool.Start()

	tasks := make([]Task[*QueryResult], len(queries))
	for i, q := range queries {
		i := i // per-iteration copy; go.mod targets go 1.21 loop semantics
		job := &QueryJob{Query: q, Answerer: b.answerer, Sink: sink}
		tasks[i] = func(ctx context.Context) *QueryResult {
			r := job.Execute(ctx)
			r.index = i
			return r
		}
	}

	results := pool.Collect(tasks)
	if len(results) == len(queries) {
		return results
	}

	ran := make([]bool, len(queries))
	for _, r := range results {
		ran[r.index] = true
	}
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	for i, q := range queries {
		if !ran[i] {
			results = append(results, &QueryResult{Query: q, Error: fmt.Errorf("cancelled: %w", err), index: i})
		}
	}
	return results
}

// ProcessFile reads a queries file and answers every query in it
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string, sink Sink) ([]*QueryResult, error) {
	queries, err := ReadQueriesFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return b.ProcessQueries(ctx, queries, sink), nil
}

// ReadQueriesFile reads a JSONL file of {query_id, question, category}.
// Blank lines and lines starting with '#' are skipped; a repeated query_id
// keeps its first occurrence.
func ReadQueriesFile(filePath string) ([]model.Query, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var queries []model.Query
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var q model.Query
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if q.QueryID == "" || strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("line %d: query_id and question are required", lineNo)
		}

		if !seen[q.QueryID] {
			seen[q.QueryID] = true
			queries = append(queries, q)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return queries, nil
}
