package main

import (
	"context"
	"database/sql"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/storage"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func openStorage(ctx context.Context, cfg *config.Config) (session.Storage, func(), error) {
	switch cfg.StorageKind {
	case config.StorageFile:
		fs, err := storage.NewFileStorage(cfg.FileDir)
		return fs, func() {}, err

	case config.StorageBun:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		bs := storage.NewBunStorage(db)
		if err := bs.CreateTable(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return bs, func() { _ = db.Close() }, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return storage.NewRedisStorage(client), func() { _ = client.Close() }, nil
	}

	return session.NewMemoryStorage(), func() {}, nil
}
