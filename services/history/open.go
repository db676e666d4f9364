package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gap_strategy_backend/config"
)

// Open builds the Store selected by cfg.History.Backend
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	h := cfg.History
	log := logger.With().Str("component", "history").Str("backend", h.Backend).Logger()

	switch h.Backend {
	case "", "file":
		log.Info().Str("path", h.File).Msg("using JSON file history store")
		return NewFileStore(h.File), nil
	case "memory":
		log.Info().Msg("using in-memory history store")
		return NewMemoryStore(), nil
	case "sqlite":
		log.Info().Str("path", h.SQLitePath).Msg("using sqlite history store")
		return NewSQLiteStore(h.SQLitePath)
	case "postgres":
		db, err := config.InitDB(cfg)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)
	case "mongo", "mongodb":
		return ConnectMongo(ctx, h.MongoURI)
	case "redis":
		client, err := DialRedis(ctx, h.RedisAddr, h.RedisPassword, h.RedisDB)
		if err != nil {
			return nil, err
		}
		log.Info().Str("addr", h.RedisAddr).Msg("using redis history store")
		return NewRedisStore(client, h.RedisKey, 0), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, h.Backend)
}
