// Package storage owns the two durable backends: the Redis-backed KV the
// matching core coordinates through, and the Postgres pool that keeps
// practice-session history. Everything above it consumes the KV interface
// or the PostgresDB methods, never a raw client.
package storage

import (
	"context"
	"fmt"
)

// Storage bundles both backends behind a single lifecycle.
type Storage struct {
	DB    *PostgresDB
	Redis *RedisClient
}

// NewStorage connects both backends. A Redis failure closes the
// already-open Postgres pool so a half-initialized bundle never escapes.
func NewStorage(ctx context.Context, databaseURL, redisURL string) (*Storage, error) {
	db, err := NewPostgresDB(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Storage{DB: db, Redis: redisClient}, nil
}

func (s *Storage) Close() error {
	s.DB.Close()
	return s.Redis.Close()
}
