// Package retrieve produces the ordered candidate list the reliability pipeline consumes.
package retrieve

import (
	"context"
	"errors"

	"github.com/ppiankov/policyrag/internal/model"
)

// ErrIndexNotReady is returned when a retriever has nothing to search
var ErrIndexNotReady = errors.New("retrieval index not ready")

// Retriever returns up to k candidates ordered by descending ScoreRetrieve.
// Returned items have ScoreRerank equal to ScoreRetrieve.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, query string, k int) ([]model.EvidenceItem, error)
}
