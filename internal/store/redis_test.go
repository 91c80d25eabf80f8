// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client), mr
}

func TestStrGetMissingReturnsErrNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StrGet(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStrSetEXExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StrSetEX(ctx, "k", "v", 1*time.Second))
	v, err := s.StrGet(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	mr.FastForward(2 * time.Second)
	_, err = s.StrGet(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTTLReportsRemainingTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StrSetEX(ctx, "k", "v", time.Minute))
	d, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, d > 0 && d <= time.Minute)

	d, err = s.TTL(ctx, "missing")
	require.NoError(t, err)
	require.True(t, d < 0)
}

func TestHashRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "f2", "v2"))

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	keys, err := s.HKeys(ctx, "h")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"f1", "f2"}, keys)

	require.NoError(t, s.HDel(ctx, "h", "f1"))
	ok, err := s.HExists(ctx, "h", "f1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, "l", "a"))
	require.NoError(t, s.RPush(ctx, "l", "b"))
	require.NoError(t, s.RPush(ctx, "l", "c"))

	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, vals)

	require.NoError(t, s.LRem(ctx, "l", 1, "b"))
	vals, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, vals)
}

func TestKeysPattern(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "project:p1:agents", "s-1", "{}"))
	require.NoError(t, s.HSet(ctx, "project:p2:agents", "s-2", "{}"))

	matched, err := s.Keys(ctx, "project:*:agents")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"project:p1:agents", "project:p2:agents"}, matched)
}

func TestPing(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestErrNotFoundIsDistinctError(t *testing.T) {
	require.False(t, errors.Is(errors.New("other"), ErrNotFound))
}
