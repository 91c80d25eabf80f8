// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package locks implements C5: exclusive advisory per-(project, path) file
// locks with ownership checks and a bounded recent-change log. TTL variant
// selected over the permanent-advisory variant, see DESIGN.md.
package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/mcperrors"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Lock is the persisted record for a held file lock.
type Lock struct {
	Session     string `json:"session"`
	LockedAt    string `json:"locked_at"`
	ChangeType  string `json:"change_type"`
	Description string `json:"description"`
}

// Change is one entry in the bounded recent-change log.
type Change struct {
	Session     string `json:"session"`
	FilePath    string `json:"file_path"`
	ChangeType  string `json:"change_type"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

// Manager owns file-lock state and the recent-change log for every project.
type Manager struct {
	store              store.Store
	bus                *messaging.Bus
	log                logging.Logger
	ttl                time.Duration
	recentChangesLimit int
	now                func() time.Time
}

// New constructs a Manager. ttl is the file-lock lifetime (spec default 5m);
// recentChangesLimit bounds the per-project change log (spec default 100).
func New(st store.Store, bus *messaging.Bus, log logging.Logger, ttl time.Duration, recentChangesLimit int) *Manager {
	return &Manager{store: st, bus: bus, log: log, ttl: ttl, recentChangesLimit: recentChangesLimit, now: time.Now}
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(time.RFC3339Nano)
}

// AnnounceResult is returned by Announce.
type AnnounceResult struct {
	Status string `json:"status"`
	Lock   *Lock  `json:"lock_info,omitempty"`
}

// Announce claims path for session. If already held by a different session
// it fails with Conflict, returning the current lock. Re-announcing by the
// same owner is idempotent.
func (m *Manager) Announce(ctx context.Context, project, session, path, changeType, description string) (*AnnounceResult, error) {
	lockKey := keys.FileLock(project, path)

	existing, err := m.readLock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Session != session {
		return nil, mcperrors.ErrConflict.WithDetail("lock_info", existing)
	}

	lock := Lock{
		Session:     session,
		LockedAt:    m.timestamp(),
		ChangeType:  changeType,
		Description: description,
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := m.store.StrSetEX(ctx, lockKey, string(data), m.ttl); err != nil {
		return nil, fmt.Errorf("write lock: %w", err)
	}

	if err := m.appendRecentChange(ctx, project, Change{
		Session:     session,
		FilePath:    path,
		ChangeType:  changeType,
		Description: description,
		Timestamp:   lock.LockedAt,
	}); err != nil {
		m.log.Error(ctx, "failed to append recent change", logging.String("project_id", project), logging.Err(err))
	}

	if _, err := m.bus.BroadcastEvent(ctx, project, messaging.EventFileChangeAnnounced, map[string]string{
		"session_name": session,
		"file_path":    path,
		"change_type":  changeType,
		"description":  description,
	}, session); err != nil {
		m.log.Error(ctx, "failed to broadcast file change", logging.String("project_id", project), logging.Err(err))
	}

	return &AnnounceResult{Status: "locked"}, nil
}

// ReleaseResult is returned by Release.
type ReleaseResult struct {
	Status string `json:"status"`
}

// Release frees path if session owns it. Absence is reported as
// "not_locked" (not an error); ownership mismatch fails with NotOwner.
func (m *Manager) Release(ctx context.Context, project, session, path string) (*ReleaseResult, error) {
	lockKey := keys.FileLock(project, path)

	existing, err := m.readLock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &ReleaseResult{Status: "not_locked"}, nil
	}
	if existing.Session != session {
		return nil, mcperrors.ErrNotOwner.WithDetail("lock_info", existing)
	}

	if err := m.store.Del(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("delete lock: %w", err)
	}

	if _, err := m.bus.BroadcastEvent(ctx, project, messaging.EventFileLockReleased, map[string]string{
		"session_name": session,
		"file_path":    path,
	}, session); err != nil {
		m.log.Error(ctx, "failed to broadcast lock release", logging.String("project_id", project), logging.Err(err))
	}

	return &ReleaseResult{Status: "released"}, nil
}

// Check returns the current lock for path, or nil if unlocked.
func (m *Manager) Check(ctx context.Context, project, path string) (*Lock, error) {
	return m.readLock(ctx, keys.FileLock(project, path))
}

// RecentChanges returns the bounded change log, most recent first.
func (m *Manager) RecentChanges(ctx context.Context, project string) ([]Change, error) {
	raw, err := m.store.LRange(ctx, keys.RecentChanges(project), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read recent changes: %w", err)
	}
	changes := make([]Change, 0, len(raw))
	for _, item := range raw {
		var c Change
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			continue
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// ReleaseOwnedBy scans every held lock in project and deletes those owned
// by session, per the cascade cleanup ordering in spec §9 (locks MUST be
// released before the agent record is deleted). The TTL key-per-path
// variant keeps no secondary owner index, so this relies on C2's key-scan
// primitive rather than a hash of per-session lock sets.
func (m *Manager) ReleaseOwnedBy(ctx context.Context, project, session string) error {
	lockKeys, err := m.store.Keys(ctx, keys.FileLockPattern(project))
	if err != nil {
		return fmt.Errorf("scan locks: %w", err)
	}
	for _, lockKey := range lockKeys {
		existing, err := m.readLock(ctx, lockKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.Session == session {
			if err := m.store.Del(ctx, lockKey); err != nil {
				return fmt.Errorf("release lock %q: %w", lockKey, err)
			}
		}
	}
	return nil
}

func (m *Manager) readLock(ctx context.Context, lockKey string) (*Lock, error) {
	raw, err := m.store.StrGet(ctx, lockKey)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return nil, fmt.Errorf("unmarshal lock: %w", err)
	}
	return &lock, nil
}

func (m *Manager) appendRecentChange(ctx context.Context, project string, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	key := keys.RecentChanges(project)
	if err := m.store.LPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("push change: %w", err)
	}
	return m.store.LTrim(ctx, key, 0, int64(m.recentChangesLimit)-1)
}
