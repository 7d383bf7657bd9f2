package retrieve

import (
	"context"
	"math"
	"sort"

	"github.com/ppiankov/policyrag/internal/corpus"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25 is an in-process Okapi BM25 index over the paragraph corpus.
// Scores are divided by the best score of the query, so the top hit is 1.0
// and every returned score lies in (0,1].
type BM25 struct {
	store   *corpus.Store
	docs    []map[string]int // term frequencies per paragraph
	lengths []int
	avgLen  float64
	df      map[string]int
}

// NewBM25 builds the index
func NewBM25(store *corpus.Store) *BM25 {
	paragraphs := store.All()
	idx := &BM25{
		store:   store,
		docs:    make([]map[string]int, len(paragraphs)),
		lengths: make([]int, len(paragraphs)),
		df:      make(map[string]int),
	}

	total := 0
	for i, p := range paragraphs {
		tf := make(map[string]int)
		terms := bm25Terms(p.Text)
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs[i] = tf
		idx.lengths[i] = len(terms)
		total += len(terms)
	}
	if len(paragraphs) > 0 {
		idx.avgLen = float64(total) / float64(len(paragraphs))
	}
	return idx
}

// Name returns the backend name
func (b *BM25) Name() string { return "bm25" }

// Retrieve scores every paragraph and returns the top k with a positive score
func (b *BM25) Retrieve(ctx context.Context, query string, k int) ([]model.EvidenceItem, error) {
	if len(b.docs) == 0 {
		return nil, ErrIndexNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := b.scores(bm25Terms(query))

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	maxScore := 0.0
	if len(order) > 0 {
		maxScore = scores[order[0]]
	}
	if maxScore <= 1e-9 {
		return []model.EvidenceItem{}, nil
	}

	paragraphs := b.store.All()
	out := make([]model.EvidenceItem, 0, k)
	for _, i := range order {
		if len(out) >= k || scores[i] <= 0 {
			break
		}
		out = append(out, model.FromParagraph(paragraphs[i], scores[i]/maxScore))
	}
	return out, nil
}

func (b *BM25) scores(query []string) []float64 {
	n := float64(len(b.docs))
	scores := make([]float64, len(b.docs))
	seen := make(map[string]bool, len(query))
	for _, term := range query {
		if seen[term] {
			continue
		}
		seen[term] = true
		df := float64(b.df[term])
		if df == 0 {
			continue
		}
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for i, tf := range b.docs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(b.lengths[i])/b.avgLen
			scores[i] += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
	}
	return scores
}

func bm25Terms(text string) []string {
	words := textutil.Words(text)
	out := words[:0]
	for _, w := range words {
		if _, stop := textutil.Stopwords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}
