package store

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-market/config"
)

// Open builds the Store selected by cfg.CacheDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.CacheDriver {
	case config.CacheDriverMemory:
		s, err = asStore(NewMemory(cfg.CacheSize))
	case config.CacheDriverSQLite:
		s, err = asStore(OpenSQLite(cfg.CacheDSN))
	case config.CacheDriverPostgres:
		s, err = asStore(OpenPostgres(ctx, cfg.CacheDSN))
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.CacheDriver, err)
	}
	return s, nil
}

// asStore drops the typed nil a failed constructor returns.
func asStore[S Store](s S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
