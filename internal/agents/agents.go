// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package agents implements C3: registration, listing, and cascade cleanup
// for the agents participating in a project.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/locks"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/mcperrors"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
	"github.com/a2amcp/mcp-coordinator/internal/todos"
)

// Status values, per spec §3.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Record is the persisted agent record.
type Record struct {
	SessionName string `json:"session_name"`
	TaskID      string `json:"task_id"`
	Branch      string `json:"branch"`
	Description string `json:"description"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	ProjectID   string `json:"project_id"`
	// LastHeartbeatAt is computed at read time from the heartbeat TTL, not
	// persisted on the record itself. Empty if the heartbeat has expired.
	LastHeartbeatAt string `json:"last_heartbeat_at,omitempty"`
}

// Heartbeat is the narrow slice of heartbeat.Service the registry needs.
type Heartbeat interface {
	Arm(ctx context.Context, project, session string) error
	LastSeenAt(ctx context.Context, project, session string) (time.Time, bool, error)
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	OtherActiveAgents []string `json:"other_active_agents"`
}

// UnregisterResult is returned by Unregister.
type UnregisterResult struct {
	TodoSummary todos.Summary `json:"todo_summary"`
}

// Registry owns agent records and the cascade cleanup that keeps locks,
// todos, and inboxes consistent with agent lifetime.
type Registry struct {
	store     store.Store
	bus       *messaging.Bus
	heartbeat Heartbeat
	locks     *locks.Manager
	todos     *todos.Store
	log       logging.Logger
	now       func() time.Time
}

// New constructs a Registry.
func New(st store.Store, bus *messaging.Bus, hb Heartbeat, lockMgr *locks.Manager, todoStore *todos.Store, log logging.Logger) *Registry {
	return &Registry{store: st, bus: bus, heartbeat: hb, locks: lockMgr, todos: todoStore, log: log, now: time.Now}
}

// Register (re-)creates session's agent record, wiping any prior state for
// that session name (idempotent re-registration), arms its heartbeat, and
// broadcasts agent_joined to every other agent. Returns the other currently
// active session names.
func (r *Registry) Register(ctx context.Context, project, session, taskID, branch, description string) (*RegisterResult, error) {
	others, err := r.listSessions(ctx, project)
	if err != nil {
		return nil, err
	}
	otherActive := make([]string, 0, len(others))
	for _, s := range others {
		if s != session {
			otherActive = append(otherActive, s)
		}
	}

	// Idempotent re-registration: wipe any prior todos/inbox for this
	// session name before writing the fresh record.
	if err := r.todos.Delete(ctx, project, session); err != nil {
		return nil, fmt.Errorf("clear prior todos: %w", err)
	}
	if err := r.bus.DeleteInbox(ctx, project, session); err != nil {
		return nil, fmt.Errorf("clear prior inbox: %w", err)
	}

	record := Record{
		SessionName: session,
		TaskID:      taskID,
		Branch:      branch,
		Description: description,
		Status:      StatusActive,
		StartedAt:   r.now().UTC().Format(time.RFC3339Nano),
		ProjectID:   project,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal agent record: %w", err)
	}
	if err := r.store.HSet(ctx, keys.Agents(project), session, string(data)); err != nil {
		return nil, fmt.Errorf("write agent record: %w", err)
	}
	if err := r.heartbeat.Arm(ctx, project, session); err != nil {
		return nil, fmt.Errorf("arm heartbeat: %w", err)
	}

	if _, err := r.bus.BroadcastEvent(ctx, project, messaging.EventAgentJoined, map[string]string{
		"session_name": session,
		"task_id":      taskID,
		"branch":       branch,
		"description":  description,
	}, session); err != nil {
		r.log.Error(ctx, "failed to broadcast agent_joined", logging.String("project_id", project), logging.Err(err))
	}

	r.log.Info(ctx, "agent registered", logging.String("project_id", project), logging.String("session_name", session))
	return &RegisterResult{OtherActiveAgents: otherActive}, nil
}

// Unregister computes a todo summary, runs the cleanup cascade, and
// broadcasts agent_left with that summary. Fails with NotFound if session
// has no agent record.
func (r *Registry) Unregister(ctx context.Context, project, session string) (*UnregisterResult, error) {
	exists, err := r.store.HExists(ctx, keys.Agents(project), session)
	if err != nil {
		return nil, fmt.Errorf("check agent exists: %w", err)
	}
	if !exists {
		return nil, mcperrors.ErrNotFound.WithDetail("session_name", session)
	}

	items, err := r.todos.List(ctx, project, session)
	if err != nil {
		return nil, err
	}
	summary := todos.Summarize(items)

	if err := r.Cleanup(ctx, project, session); err != nil {
		return nil, err
	}

	if _, err := r.bus.BroadcastEvent(ctx, project, messaging.EventAgentLeft, map[string]interface{}{
		"session_name": session,
		"todo_summary": summary,
	}, session); err != nil {
		r.log.Error(ctx, "failed to broadcast agent_left", logging.String("project_id", project), logging.Err(err))
	}

	r.log.Info(ctx, "agent unregistered", logging.String("project_id", project), logging.String("session_name", session))
	return &UnregisterResult{TodoSummary: summary}, nil
}

// List returns every agent record currently in the hash. Best-effort: may
// include sessions whose heartbeat just expired but have not yet been
// reaped, per spec §4.3.
func (r *Registry) List(ctx context.Context, project string) ([]Record, error) {
	all, err := r.store.HGetAll(ctx, keys.Agents(project))
	if err != nil {
		return nil, fmt.Errorf("read agents: %w", err)
	}
	records := make([]Record, 0, len(all))
	for _, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			r.log.Warn(ctx, "dropping unparseable agent record", logging.String("project_id", project), logging.Err(err))
			continue
		}
		r.annotateLastHeartbeat(ctx, project, &rec)
		records = append(records, rec)
	}
	return records, nil
}

// annotateLastHeartbeat fills in rec.LastHeartbeatAt from the heartbeat
// service's TTL, best-effort: a lookup error just leaves the field empty.
func (r *Registry) annotateLastHeartbeat(ctx context.Context, project string, rec *Record) {
	seenAt, ok, err := r.heartbeat.LastSeenAt(ctx, project, rec.SessionName)
	if err != nil {
		r.log.Warn(ctx, "failed to read heartbeat ttl", logging.String("project_id", project), logging.String("session_name", rec.SessionName), logging.Err(err))
		return
	}
	if !ok {
		return
	}
	rec.LastHeartbeatAt = seenAt.UTC().Format(time.RFC3339Nano)
}

// Get returns one agent record, or mcperrors.ErrNotFound.
func (r *Registry) Get(ctx context.Context, project, session string) (*Record, error) {
	raw, err := r.store.HGet(ctx, keys.Agents(project), session)
	if err == store.ErrNotFound {
		return nil, mcperrors.ErrNotFound.WithDetail("session_name", session)
	}
	if err != nil {
		return nil, fmt.Errorf("read agent: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal agent record: %w", err)
	}
	r.annotateLastHeartbeat(ctx, project, &rec)
	return &rec, nil
}

// SetStatus flips session's record status (used by C10 on task completion).
func (r *Registry) SetStatus(ctx context.Context, project, session, status string) error {
	rec, err := r.Get(ctx, project, session)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.LastHeartbeatAt = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal agent record: %w", err)
	}
	return r.store.HSet(ctx, keys.Agents(project), session, string(data))
}

// Cleanup is the internal cascade invoked by Unregister and by the reaper.
// Ordering is load-bearing (spec §9): locks MUST be released before the
// agent record is deleted, since an orphaned lock with no owning agent is
// worse than a reader racing the cleanup and seeing a still-valid owner.
func (r *Registry) Cleanup(ctx context.Context, project, session string) error {
	if err := r.locks.ReleaseOwnedBy(ctx, project, session); err != nil {
		return fmt.Errorf("release locks: %w", err)
	}
	if err := r.todos.Delete(ctx, project, session); err != nil {
		return fmt.Errorf("delete todos: %w", err)
	}
	if err := r.bus.DeleteInbox(ctx, project, session); err != nil {
		return fmt.Errorf("delete inbox: %w", err)
	}
	if err := r.store.HDel(ctx, keys.Agents(project), session); err != nil {
		return fmt.Errorf("delete agent record: %w", err)
	}
	return nil
}

func (r *Registry) listSessions(ctx context.Context, project string) ([]string, error) {
	sessions, err := r.store.HKeys(ctx, keys.Agents(project))
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	return sessions, nil
}
