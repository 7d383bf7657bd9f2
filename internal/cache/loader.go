package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Observer is notified of every lookup (hit or miss) per stage
type Observer func(stage string, hit bool)

// Loader computes values once per content address. Concurrent callers for the
// same key share one computation; the last write wins if two hosts race.
type Loader struct {
	cache    Cache
	ttl      time.Duration
	flight   singleflight.Group
	logger   *zap.Logger
	observer Observer
	scope    string
}

// NewLoader wraps a cache. A nil cache disables storage but keeps deduplication.
func NewLoader(c Cache, ttl time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, ttl: ttl, logger: logger}
}

// WithObserver registers a lookup observer (metrics)
func (l *Loader) WithObserver(o Observer) *Loader {
	l.observer = o
	return l
}

// WithScope mixes scope (the judge model) into every key, so switching models
// never reuses another model's verdicts
func (l *Loader) WithScope(scope string) *Loader {
	l.scope = scope
	return l
}

// Load returns the cached value for (stage, inputs) or computes and stores it.
// Compute errors are returned and never cached. A cached entry that fails to
// decode is deleted and treated as a miss. The bool reports a cache hit.
func Load[T any](ctx context.Context, l *Loader, stage string, inputs []string, compute func(context.Context) (T, error)) (T, bool, error) {
	if l == nil {
		v, err := compute(ctx)
		return v, false, err
	}

	key := l.key(stage, inputs)
	if v, ok := lookup[T](l, key); ok {
		l.observe(stage, true)
		return v, true, nil
	}
	l.observe(stage, false)

	res, err, _ := l.flight.Do(key, func() (interface{}, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if l.cache != nil {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s cache entry: %w", stage, err)
			}
			if err := l.cache.Set(key, data, l.ttl); err != nil {
				l.logger.Warn("cache write failed", zap.String("stage", stage), zap.Error(err))
			}
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

func lookup[T any](l *Loader, key string) (T, bool) {
	var v T
	if l.cache == nil {
		return v, false
	}
	data, ok := l.cache.Get(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		l.logger.Warn("corrupt cache entry removed", zap.String("key", key), zap.Error(err))
		_ = l.cache.Delete(key)
		var zero T
		return zero, false
	}
	return v, true
}

func (l *Loader) key(stage string, inputs []string) string {
	if l.scope == "" {
		return Key(stage, inputs...)
	}
	return Key(stage, append([]string{l.scope}, inputs...)...)
}

func (l *Loader) observe(stage string, hit bool) {
	if l.observer != nil {
		l.observer(stage, hit)
	}
}
