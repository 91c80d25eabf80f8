// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package interfaces implements C7: named shared type/interface
// definitions with exact-match lookup and a case-insensitive substring
// fuzzy-match fallback.
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Definition is a registered interface/type contract.
type Definition struct {
	Name         string `json:"name"`
	Definition   string `json:"definition"`
	RegisteredBy string `json:"registered_by"`
	FilePath     string `json:"file_path,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// QueryResult is returned by Query.
type QueryResult struct {
	Status     string      `json:"status"`
	Definition *Definition `json:"definition,omitempty"`
	Similar    []string    `json:"similar,omitempty"`
}

// Registry owns interface definitions for every project.
type Registry struct {
	store store.Store
	bus   *messaging.Bus
	now   func() time.Time
}

// New constructs a Registry.
func New(st store.Store, bus *messaging.Bus) *Registry {
	return &Registry{store: st, bus: bus, now: time.Now}
}

// Register writes (or overwrites) name's definition and broadcasts
// interface_registered. Re-registration is last-writer-wins, per spec
// invariant 4.
func (r *Registry) Register(ctx context.Context, project, session, name, definition, filePath string) (*Definition, error) {
	def := Definition{
		Name:         name,
		Definition:   definition,
		RegisteredBy: session,
		FilePath:     filePath,
		Timestamp:    r.now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal interface: %w", err)
	}
	if err := r.store.HSet(ctx, keys.Interfaces(project), name, string(data)); err != nil {
		return nil, fmt.Errorf("write interface: %w", err)
	}

	if _, err := r.bus.BroadcastEvent(ctx, project, messaging.EventInterfaceRegistered, map[string]string{
		"session_name": session,
		"name":         name,
		"definition":   definition,
	}, session); err != nil {
		return nil, fmt.Errorf("broadcast interface registration: %w", err)
	}

	return &def, nil
}

// Query looks up name exactly; on miss it falls back to a case-insensitive
// substring match over every registered name and reports the candidates.
func (r *Registry) Query(ctx context.Context, project, name string) (*QueryResult, error) {
	all, err := r.store.HGetAll(ctx, keys.Interfaces(project))
	if err != nil {
		return nil, fmt.Errorf("read interfaces: %w", err)
	}

	if raw, ok := all[name]; ok {
		var def Definition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("unmarshal interface %q: %w", name, err)
		}
		return &QueryResult{Status: "found", Definition: &def}, nil
	}

	needle := strings.ToLower(name)
	var similar []string
	for candidate := range all {
		if strings.Contains(strings.ToLower(candidate), needle) {
			similar = append(similar, candidate)
		}
	}
	return &QueryResult{Status: "not_found", Similar: similar}, nil
}

// List returns every registered definition in the project.
func (r *Registry) List(ctx context.Context, project string) ([]Definition, error) {
	all, err := r.store.HGetAll(ctx, keys.Interfaces(project))
	if err != nil {
		return nil, fmt.Errorf("read interfaces: %w", err)
	}
	defs := make([]Definition, 0, len(all))
	for _, raw := range all {
		var def Definition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}
