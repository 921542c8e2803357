package main

import (
	"context"
	"fmt"

	"github.com/RyanBlaney/sonido-tuner/config"
	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/profile"
)

// openStore opens the configured profile store. The returned func releases
// it.
func openStore(ctx context.Context, c config.StorageConfig) (profile.Store, func(), error) {
	switch c.Backend {
	case config.StorageMemory:
		return profile.NewMemoryStore(), func() {}, nil

	case config.StorageFile:
		s, err := profile.OpenFileStore(c.Path)
		if err != nil {
			return nil, nil, err
		}
		logging.Debug("using profile file", logging.Fields{"path": s.Path()})
		return s, func() {}, nil

	case config.StoragePostgres:
		s, pool, err := profile.ConnectPostgres(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		if c.Migrate {
			if err := s.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return s, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}
