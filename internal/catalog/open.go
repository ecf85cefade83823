package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/shaiso/Orbit/internal/store"
)

// Open создаёт каталог по URL:
//
//	file:///etc/orbit/flows  — YAML-директория
//	postgres://...           — таблица orbit_flows
//	memory://                — пустой каталог в памяти
func Open(ctx context.Context, rawURL, defaultTenant string, logger *slog.Logger) (Catalog, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}

	switch u.Scheme {
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		return NewDir(path, defaultTenant, logger)

	case "postgres", "postgresql":
		pool, err := store.NewPool(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		c := NewPostgres(pool, defaultTenant)
		if err := c.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return c, nil

	case "memory":
		return NewStatic(defaultTenant)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}
