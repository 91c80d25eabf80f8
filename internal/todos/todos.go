// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package todos implements C8: a per-agent ordered todo list with status
// transitions and an all-agents aggregate view. List-of-items shape
// selected over the single-JSON-blob shape, see DESIGN.md.
package todos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Status values, per spec §3.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
)

// Item is a single todo entry.
type Item struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Summary is the aggregate computed over one agent's items, used by the
// agent registry's unregister() and by ListAll.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
}

// AgentTodos is one agent's entry in the ListAll aggregate view.
type AgentTodos struct {
	Session     string  `json:"session_name"`
	Description string  `json:"description,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	Items       []Item  `json:"items"`
	Summary     Summary `json:"summary"`
}

// Store owns todo persistence for every agent in a project.
type Store struct {
	store store.Store
	bus   *messaging.Bus
	now   func() time.Time
}

// New constructs a Store.
func New(st store.Store, bus *messaging.Bus) *Store {
	return &Store{store: st, bus: bus, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Add appends a new pending item to session's list and returns it.
func (s *Store) Add(ctx context.Context, project, session, text string, priority int) (*Item, error) {
	item := Item{
		ID:        uuid.NewString(),
		Text:      text,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: s.timestamp(),
		UpdatedAt: s.timestamp(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal todo: %w", err)
	}
	if err := s.store.RPush(ctx, keys.Todos(project, session), string(data)); err != nil {
		return nil, fmt.Errorf("append todo: %w", err)
	}
	return &item, nil
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	Status string `json:"status"`
	Item   *Item  `json:"item,omitempty"`
}

// Update rewrites the item matching id with the new status, stamping
// CompletedAt only on a transition into StatusCompleted, and broadcasts
// todo_completed when that happens. A missing id is a soft failure: it
// returns {status: "not_found"}, not an error.
func (s *Store) Update(ctx context.Context, project, session, id, status string) (*UpdateResult, error) {
	items, err := s.List(ctx, project, session)
	if err != nil {
		return nil, err
	}

	found := -1
	for i, it := range items {
		if it.ID == id {
			found = i
			break
		}
	}
	if found == -1 {
		return &UpdateResult{Status: "not_found"}, nil
	}

	items[found].Status = status
	items[found].UpdatedAt = s.timestamp()
	if status == StatusCompleted {
		ts := s.timestamp()
		items[found].CompletedAt = &ts
	}

	if err := s.rewrite(ctx, project, session, items); err != nil {
		return nil, err
	}

	if status == StatusCompleted {
		if _, err := s.bus.BroadcastEvent(ctx, project, messaging.EventTodoCompleted, map[string]string{
			"session_name": session,
			"todo_id":      id,
			"text":         items[found].Text,
		}, session); err != nil {
			return nil, fmt.Errorf("broadcast todo completion: %w", err)
		}
	} else {
		if _, err := s.bus.BroadcastEvent(ctx, project, messaging.EventTodoUpdate, map[string]string{
			"session_name": session,
			"todo_id":      id,
			"status":       status,
		}, session); err != nil {
			return nil, fmt.Errorf("broadcast todo update: %w", err)
		}
	}

	return &UpdateResult{Status: "updated", Item: &items[found]}, nil
}

// List returns session's items in insertion order.
func (s *Store) List(ctx context.Context, project, session string) ([]Item, error) {
	raw, err := s.store.LRange(ctx, keys.Todos(project, session), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read todos: %w", err)
	}
	items := make([]Item, 0, len(raw))
	for _, v := range raw {
		var it Item
		if err := json.Unmarshal([]byte(v), &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// Replace performs a bulk overwrite of session's list (update_todo_list).
func (s *Store) Replace(ctx context.Context, project, session string, items []Item) error {
	return s.rewrite(ctx, project, session, items)
}

// Summarize computes the aggregate over session's items.
func Summarize(items []Item) Summary {
	sum := Summary{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusCompleted:
			sum.Completed++
		case StatusPending:
			sum.Pending++
		case StatusInProgress:
			sum.InProgress++
		}
	}
	return sum
}

// ListAll returns every agent's items plus aggregates, used by
// get_all_todos. agentMeta maps session -> (description, task_id), sourced
// from the agent registry.
func (s *Store) ListAll(ctx context.Context, project string, agentMeta map[string]AgentMeta) ([]AgentTodos, error) {
	out := make([]AgentTodos, 0, len(agentMeta))
	for session, meta := range agentMeta {
		items, err := s.List(ctx, project, session)
		if err != nil {
			return nil, err
		}
		out = append(out, AgentTodos{
			Session:     session,
			Description: meta.Description,
			TaskID:      meta.TaskID,
			Items:       items,
			Summary:     Summarize(items),
		})
	}
	return out, nil
}

// AgentMeta is the slice of an agent record ListAll needs from the caller.
type AgentMeta struct {
	Description string
	TaskID      string
}

// Delete removes session's entire todo list, used by the cascade cleanup.
func (s *Store) Delete(ctx context.Context, project, session string) error {
	return s.store.Del(ctx, keys.Todos(project, session))
}

func (s *Store) rewrite(ctx context.Context, project, session string, items []Item) error {
	key := keys.Todos(project, session)
	if err := s.store.Del(ctx, key); err != nil {
		return fmt.Errorf("clear todos: %w", err)
	}
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal todo: %w", err)
		}
		if err := s.store.RPush(ctx, key, string(data)); err != nil {
			return fmt.Errorf("rewrite todo: %w", err)
		}
	}
	return nil
}
