// Package cache stores Tier-2 judge verdicts by content address so repeated
// runs over the same inputs skip the LLM call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrNotFound is returned by backends that report a miss as an error
var ErrNotFound = errors.New("cache entry not found")

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

const keyPrefix = "policyrag:v1:"

// Key generates a content-addressed key: sha256 over the stage name and every
// input, each separated by a NUL so ("ab","c") and ("a","bc") differ.
func Key(stage string, inputs ...string) string {
	h := sha256.New()
	h.Write([]byte(stage))
	for _, in := range inputs {
		h.Write([]byte{0})
		h.Write([]byte(in))
	}
	return keyPrefix + stage + ":" + hex.EncodeToString(h.Sum(nil))
}

// Stage returns the stage component of a key produced by Key
func Stage(key string) string {
	rest := strings.TrimPrefix(key, keyPrefix)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return ""
}

// Close closes every cache that holds resources and reports all failures
func Close(caches ...Cache) error {
	var result *multierror.Error
	for _, c := range caches {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
