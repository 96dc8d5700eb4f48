package app

import (
	"context"
	"fmt"
	"time"

	"web-gateway/internal/config"
	"web-gateway/internal/store"
	"web-gateway/internal/store/badgerstore"
	"web-gateway/internal/store/memory"
	"web-gateway/internal/store/redisstore"
)

func openStore(cfg config.StoreConfig) (store.Store, func() error, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		st := redisstore.New(redisstore.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return st, st.Close, nil
	case config.StoreBadger:
		st, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.StoreMemory, "":
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
