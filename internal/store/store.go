// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store is the thin capability boundary over the external
// Redis-compatible key-value store. Every domain package (C3-C8) talks to
// Redis exclusively through this interface; outside of test files, which
// build clients against miniredis, nothing else in the module imports
// go-redis directly.
package store

import (
	"context"
	"time"
)

// Store is the set of Redis primitives the coordination engine needs.
// Every operation is individually atomic; the design intentionally avoids
// multi-key transactions (spec §5).
type Store interface {
	// Strings
	StrGet(ctx context.Context, key string) (string, error)
	StrSet(ctx context.Context, key, value string) error
	StrSetEX(ctx context.Context, key, value string, ttl time.Duration) error

	// Hashes
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) error
	HExists(ctx context.Context, key, field string) (bool, error)
	HKeys(ctx context.Context, key string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Lists
	LPush(ctx context.Context, key, value string) error
	RPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	// Generic
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining time-to-live on key, or a negative duration
	// if key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping verifies connectivity, used by the /health endpoint.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// ErrNotFound is returned by StrGet/HGet when a key or field is absent.
// Components translate it into their own not_found semantics as needed;
// many callers treat "not found" as a legitimate empty state instead of an
// error (e.g. an inbox that has never been written to).
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: key not found" }
