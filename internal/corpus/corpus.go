// Package corpus loads the fixed paragraph corpus produced by ingestion.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
)

const maxLineBytes = 4 << 20

// Store is an immutable, id-addressable set of paragraphs
type Store struct {
	paragraphs []model.Paragraph
	byID       map[string]int
}

// NewStore indexes paragraphs by id. Duplicate ids are rejected.
func NewStore(paragraphs []model.Paragraph) (*Store, error) {
	s := &Store{
		paragraphs: paragraphs,
		byID:       make(map[string]int, len(paragraphs)),
	}
	for i, p := range paragraphs {
		if p.ParagraphID == "" {
			return nil, fmt.Errorf("paragraph %d has no paragraph_id", i)
		}
		if _, dup := s.byID[p.ParagraphID]; dup {
			return nil, fmt.Errorf("duplicate paragraph_id %q", p.ParagraphID)
		}
		s.byID[p.ParagraphID] = i
	}
	return s, nil
}

// LoadFile reads a paragraphs JSONL file
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	paragraphs, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return NewStore(paragraphs)
}

// ReadJSONL decodes one paragraph per line. Blank lines are skipped; the legacy
// "id" key is accepted when "paragraph_id" is missing.
func ReadJSONL(r io.Reader) ([]model.Paragraph, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []model.Paragraph
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec struct {
			model.Paragraph
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := rec.Paragraph
		if p.ParagraphID == "" {
			p.ParagraphID = rec.ID
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteJSONL encodes paragraphs one per line
func WriteJSONL(w io.Writer, paragraphs []model.Paragraph) error {
	enc := json.NewEncoder(w)
	for _, p := range paragraphs {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encode paragraph %s: %w", p.ParagraphID, err)
		}
	}
	return nil
}

// Get returns the paragraph with the given id
func (s *Store) Get(id string) (model.Paragraph, bool) {
	i, ok := s.byID[id]
	if !ok {
		return model.Paragraph{}, false
	}
	return s.paragraphs[i], true
}

// All returns the paragraphs in corpus order. The slice must not be modified.
func (s *Store) All() []model.Paragraph {
	return s.paragraphs
}

// Len returns the number of paragraphs
func (s *Store) Len() int {
	return len(s.paragraphs)
}
