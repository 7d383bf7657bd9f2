package cache

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
	"go.uber.org/zap"
)

// New builds the configured backend. It returns (nil, nil) when caching is disabled.
func New(cfg model.CacheConfig, logger *zap.Logger) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(cfg.TTL(), 10*time.Minute), nil

	case "badger":
		return NewBadgerCache(BadgerConfig{Dir: badgerDir(cfg.Dir), Logger: logger})

	case "redis":
		return NewRedisCache(cfg.RedisAddr)

	case "layered", "":
		persistent, err := NewBadgerCache(BadgerConfig{Dir: badgerDir(cfg.Dir), Logger: logger})
		if err != nil {
			return nil, err
		}
		return NewLayeredCache(NewMemoryCache(cfg.TTL(), 10*time.Minute), persistent), nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, badger, redis, layered)", cfg.Backend)
	}
}

func badgerDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "judge")
}
