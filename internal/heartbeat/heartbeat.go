// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package heartbeat implements C4: per-agent liveness TTLs and the
// background reaper that frees resources for agents whose heartbeat has
// expired.
package heartbeat

import (
	"context"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Reaper is implemented by internal/agents.Registry; kept here as a narrow
// interface so this package doesn't import agents (which itself depends on
// heartbeat to arm sessions).
type Reaper interface {
	Cleanup(ctx context.Context, project, session string) error
}

// Broadcaster is the subset of messaging.Bus the reaper needs to announce
// timeouts without importing the messaging package's full surface.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, project, eventType string, content interface{}, exclude string) (int, error)
}

// ReapRecorder is the narrow metrics capability the reaper reports to. A
// nil ReapRecorder disables reporting.
type ReapRecorder interface {
	IncReap()
}

// Service owns per-agent liveness TTLs and the reaper loop.
type Service struct {
	store    store.Store
	log      logging.Logger
	ttl      time.Duration
	interval time.Duration
	metrics  ReapRecorder
}

// New constructs a Service. ttl is the per-heartbeat TTL (spec default
// 120s); interval is the reaper tick period (spec default 30s).
func New(st store.Store, log logging.Logger, ttl, interval time.Duration) *Service {
	return &Service{store: st, log: log, ttl: ttl, interval: interval}
}

// WithMetrics attaches a ReapRecorder, returning the same Service for
// chaining at construction time.
func (s *Service) WithMetrics(m ReapRecorder) *Service {
	s.metrics = m
	return s
}

// Arm (re-)sets session's liveness marker, per spec §4.4: every tool call
// attributable to a session re-arms its heartbeat.
func (s *Service) Arm(ctx context.Context, project, session string) error {
	return s.store.StrSetEX(ctx, keys.Heartbeat(project, session), "1", s.ttl)
}

// IsAlive reports whether session currently has an unexpired heartbeat.
func (s *Service) IsAlive(ctx context.Context, project, session string) (bool, error) {
	return s.store.Exists(ctx, keys.Heartbeat(project, session))
}

// LastSeenAt derives when session's heartbeat was last armed from the
// remaining TTL on its liveness key (ttl - remaining). It is a read-time
// convenience, not a persisted field: the second return is false if the
// session has no live heartbeat.
func (s *Service) LastSeenAt(ctx context.Context, project, session string) (time.Time, bool, error) {
	remaining, err := s.store.TTL(ctx, keys.Heartbeat(project, session))
	if err != nil {
		return time.Time{}, false, err
	}
	if remaining <= 0 {
		return time.Time{}, false, nil
	}
	return time.Now().Add(remaining - s.ttl), true, nil
}

// RunReaper ticks every interval, scanning every project's agent hash for
// sessions with no heartbeat key and cleaning them up. It returns when ctx
// is canceled, making it suitable for joining into an errgroup.
func (s *Service) RunReaper(ctx context.Context, reaper Reaper, bus Broadcaster) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx, reaper, bus)
		}
	}
}

func (s *Service) tick(ctx context.Context, reaper Reaper, bus Broadcaster) {
	agentKeys, err := s.store.Keys(ctx, keys.AgentsPattern())
	if err != nil {
		s.log.Error(ctx, "reaper: failed to scan projects", logging.Err(err))
		return
	}

	for _, agentsKey := range agentKeys {
		project, ok := keys.ProjectFromAgentsKey(agentsKey)
		if !ok {
			continue
		}
		sessions, err := s.store.HKeys(ctx, agentsKey)
		if err != nil {
			s.log.Error(ctx, "reaper: failed to list agents", logging.String("project_id", project), logging.Err(err))
			continue
		}
		for _, session := range sessions {
			s.reapIfExpired(ctx, project, session, reaper, bus)
		}
	}
}

func (s *Service) reapIfExpired(ctx context.Context, project, session string, reaper Reaper, bus Broadcaster) {
	alive, err := s.IsAlive(ctx, project, session)
	if err != nil {
		s.log.Error(ctx, "reaper: failed to check liveness", logging.String("project_id", project), logging.String("session_name", session), logging.Err(err))
		return
	}
	if alive {
		return
	}

	if err := reaper.Cleanup(ctx, project, session); err != nil {
		s.log.Error(ctx, "reaper: cleanup failed", logging.String("project_id", project), logging.String("session_name", session), logging.Err(err))
		return
	}
	if _, err := bus.BroadcastEvent(ctx, project, "agent_timeout", map[string]string{"session_name": session}, session); err != nil {
		s.log.Error(ctx, "reaper: failed to broadcast timeout", logging.String("project_id", project), logging.String("session_name", session), logging.Err(err))
	}
	if s.metrics != nil {
		s.metrics.IncReap()
	}
	s.log.Info(ctx, "reaper: reaped expired agent", logging.String("project_id", project), logging.String("session_name", session))
}
