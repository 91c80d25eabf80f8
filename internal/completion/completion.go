// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package completion implements C10: the durable completed_tasks record
// plus the best-effort filesystem drop-file an external orchestrator polls.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/agents"
	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Record is the persisted completion entry.
type Record struct {
	TaskID      string `json:"task_id"`
	SessionName string `json:"session_name"`
	CompletedAt string `json:"completed_at"`
}

// Signal owns completion bookkeeping: the durable hash entry, the agent
// status flip, and the best-effort drop-file.
type Signal struct {
	store         store.Store
	agents        *agents.Registry
	log           logging.Logger
	completionDir string
	now           func() time.Time
}

// New constructs a Signal. completionDir is where drop-files are written
// (spec default "/tmp/splitmind-status").
func New(st store.Store, agentRegistry *agents.Registry, log logging.Logger, completionDir string) *Signal {
	return &Signal{store: st, agents: agentRegistry, log: log, completionDir: completionDir, now: time.Now}
}

// MarkCompleted writes the completed_tasks entry, flips the agent record's
// status, and attempts the drop-file write. Filesystem errors are logged
// and never surfaced, per spec §4.10/§7.
func (s *Signal) MarkCompleted(ctx context.Context, project, session, taskID string) (*Record, error) {
	rec := Record{
		TaskID:      taskID,
		SessionName: session,
		CompletedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal completion record: %w", err)
	}
	if err := s.store.HSet(ctx, keys.CompletedTasks(project), taskID, string(data)); err != nil {
		return nil, fmt.Errorf("write completion record: %w", err)
	}

	if err := s.agents.SetStatus(ctx, project, session, agents.StatusCompleted); err != nil {
		return nil, fmt.Errorf("flip agent status: %w", err)
	}

	s.writeDropFile(ctx, session)

	return &rec, nil
}

func (s *Signal) writeDropFile(ctx context.Context, session string) {
	if s.completionDir == "" {
		return
	}
	path := filepath.Join(s.completionDir, session+".status")
	if err := os.MkdirAll(s.completionDir, 0o755); err != nil {
		s.log.Warn(ctx, "completion drop-file: failed to create directory", logging.String("session_name", session), logging.Err(err))
		return
	}
	if err := os.WriteFile(path, []byte("COMPLETED\n"), 0o644); err != nil {
		s.log.Warn(ctx, "completion drop-file: failed to write", logging.String("session_name", session), logging.Err(err))
	}
}
