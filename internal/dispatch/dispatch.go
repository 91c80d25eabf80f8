// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package dispatch implements C9: the static registry mapping tool names
// onto C3-C8, schema-validating arguments before invocation, and ensuring a
// handler exception never escapes as a transport error. Grounded on the
// teacher's core/tools.Registry shape.
package dispatch

import (
	"context"
	"fmt"

	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/mcperrors"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
)

// PropertySchema describes one argument's declared type.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ParameterSchema is a tool's declared argument shape.
type ParameterSchema struct {
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// Result is the JSON payload every tool call returns, success or failure.
type Result struct {
	Success bool                   `json:"success"`
	Output  interface{}            `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Kind    string                 `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Handler implements one tool's business logic. Returning an error is
// normal control flow for expected failure kinds (mcperrors.Kind); the
// Registry translates it into a Result, never letting it escape as a
// transport-level error.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is one entry in the registry.
type Tool struct {
	Name        string
	Description string
	Schema      *ParameterSchema
	Handler     Handler
	// ArmsHeartbeat marks handlers that take a session_name and must
	// re-arm that session's heartbeat on success, per spec §4.9.
	ArmsHeartbeat bool
}

// HeartbeatArmer is the narrow heartbeat capability the registry needs to
// re-arm a session on a successful call.
type HeartbeatArmer interface {
	Arm(ctx context.Context, project, session string) error
}

// Recorder is the narrow metrics capability the registry reports tool
// outcomes to. A nil Recorder (the zero value of Deps.Metrics) disables
// reporting entirely.
type Recorder interface {
	IncRegistration()
	IncLockConflict()
	AddMessagesSent(n int)
	AddMessagesDelivered(n int)
}

// Registry maps tool names to their handlers.
type Registry struct {
	tools     map[string]*Tool
	heartbeat HeartbeatArmer
	log       logging.Logger
	metrics   Recorder
}

// NewRegistry constructs an empty Registry. metrics may be nil.
func NewRegistry(hb HeartbeatArmer, log logging.Logger, metrics Recorder) *Registry {
	return &Registry{tools: make(map[string]*Tool), heartbeat: hb, log: log, metrics: metrics}
}

// Register adds a tool, and its declared aliases, under their own names.
func (r *Registry) Register(tool *Tool, aliases ...string) {
	r.tools[tool.Name] = tool
	for _, alias := range aliases {
		aliased := *tool
		aliased.Name = alias
		r.tools[alias] = &aliased
	}
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Call validates args against the named tool's schema, invokes its handler,
// and always returns a Result — never an error — per spec §4.9 ("the
// dispatch layer MUST NOT propagate the exception out of the transport").
func (r *Registry) Call(ctx context.Context, project, session, name string, args map[string]interface{}) *Result {
	tool, ok := r.tools[name]
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name), Kind: string(mcperrors.KindInvalidArguments)}
	}

	if err := validate(tool.Schema, args); err != nil {
		return &Result{Success: false, Error: err.Error(), Kind: string(mcperrors.KindInvalidArguments)}
	}

	output, err := tool.Handler(ctx, args)
	if err != nil {
		res := errorResult(err)
		if r.metrics != nil && res.Kind == string(mcperrors.KindConflict) {
			r.metrics.IncLockConflict()
		}
		return res
	}

	if tool.ArmsHeartbeat && session != "" {
		if err := r.heartbeat.Arm(ctx, project, session); err != nil {
			r.log.Error(ctx, "failed to re-arm heartbeat after tool call", logging.String("tool", name), logging.String("session_name", session), logging.Err(err))
		}
	}

	r.recordOutcome(name, output)
	return &Result{Success: true, Output: output}
}

func (r *Registry) recordOutcome(name string, output interface{}) {
	if r.metrics == nil {
		return
	}
	switch name {
	case "register_agent":
		r.metrics.IncRegistration()
	case "query_agent", "send_message":
		r.metrics.AddMessagesSent(1)
	case "broadcast_message":
		if counts, ok := output.(map[string]int); ok {
			r.metrics.AddMessagesSent(counts["recipients"])
		}
	case "check_messages", "get_messages":
		if msgs, ok := output.([]messaging.Message); ok {
			r.metrics.AddMessagesDelivered(len(msgs))
		}
	}
}

func errorResult(err error) *Result {
	kind := mcperrors.KindOf(err)
	if kind == "" {
		kind = mcperrors.KindInternal
	}
	return &Result{Success: false, Error: err.Error(), Kind: string(kind), Details: mcperrors.DetailsOf(err)}
}

// validate checks required fields are present and, where declared, that
// simple scalar types match. It does not attempt full JSON-schema coverage.
func validate(schema *ParameterSchema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return mcperrors.ErrInvalidArguments.WithDetail("missing", name)
		}
	}
	for name, prop := range schema.Properties {
		v, ok := args[name]
		if !ok || prop == nil || prop.Type == "" {
			continue
		}
		if !typeMatches(prop.Type, v) {
			return mcperrors.ErrInvalidArguments.WithDetail("field", name).WithDetail("expected_type", prop.Type)
		}
	}
	return nil
}

func typeMatches(declared string, v interface{}) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number", "integer":
		switch v.(type) {
		case float64, int, int64:
			return true
		default:
			return false
		}
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}
