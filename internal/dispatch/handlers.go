// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/agents"
	"github.com/a2amcp/mcp-coordinator/internal/completion"
	"github.com/a2amcp/mcp-coordinator/internal/heartbeat"
	"github.com/a2amcp/mcp-coordinator/internal/interfaces"
	"github.com/a2amcp/mcp-coordinator/internal/locks"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/todos"
)

// fileConflict is one entry of check_file_conflicts' batch result: the
// held lock plus the path it was found at, matching the original
// mcp-server-redis.py _check_file_conflicts shape.
type fileConflict struct {
	*locks.Lock
	FilePath string `json:"file_path"`
}

// Deps bundles every component C9 routes tool calls onto.
type Deps struct {
	Agents     *agents.Registry
	Heartbeat  *heartbeat.Service
	Locks      *locks.Manager
	Messaging  *messaging.Bus
	Interfaces *interfaces.Registry
	Todos      *todos.Store
	Completion *completion.Signal
	Log        logging.Logger
	// Metrics is optional; a nil Recorder disables reporting.
	Metrics Recorder
}

// Build constructs the full tool registry described in spec §6.
func Build(deps Deps) *Registry {
	r := NewRegistry(deps.Heartbeat, deps.Log, deps.Metrics)

	r.Register(&Tool{
		Name:        "register_agent",
		Description: "Register an agent session and receive the set of other active sessions.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"task_id":      {Type: "string"},
				"branch":       {Type: "string"},
				"description":  {Type: "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			return deps.Agents.Register(ctx, project, session,
				strArgOpt(args, "task_id", ""), strArgOpt(args, "branch", ""), strArgOpt(args, "description", ""))
		},
	})

	r.Register(&Tool{
		Name:        "unregister_agent",
		Description: "Unregister an agent session and cascade-clean its locks, todos, and inbox.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "session_name"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "session_name": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			return deps.Agents.Unregister(ctx, project, session)
		},
	})

	r.Register(&Tool{
		Name:        "heartbeat",
		Description: "Re-arm the caller's liveness TTL.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "session_name"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "session_name": {Type: "string"}},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]string{"status": "ok"}, nil
		},
	})

	r.Register(&Tool{
		Name:        "list_active_agents",
		Description: "List every agent record currently known in the project.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			return deps.Agents.List(ctx, project)
		},
	}, "get_active_agents")

	r.Register(&Tool{
		Name:        "add_todo",
		Description: "Append a pending todo item to the caller's list.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "text"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"text":         {Type: "string"},
				"priority":     {Type: "integer"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			text, err := strArg(args, "text")
			if err != nil {
				return nil, err
			}
			return deps.Todos.Add(ctx, project, session, text, intArgOpt(args, "priority", 1))
		},
	})

	r.Register(&Tool{
		Name:        "update_todo",
		Description: "Transition one todo item's status.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "id", "status"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"id":           {Type: "string"},
				"status":       {Type: "string", Enum: []string{todos.StatusPending, todos.StatusInProgress, todos.StatusCompleted, todos.StatusBlocked}},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			id, err := strArg(args, "id")
			if err != nil {
				return nil, err
			}
			status, err := strArg(args, "status")
			if err != nil {
				return nil, err
			}
			return deps.Todos.Update(ctx, project, session, id, status)
		},
	})

	r.Register(&Tool{
		Name:        "get_my_todos",
		Description: "List the caller's own todo items in insertion order.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "session_name"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "session_name": {Type: "string"}},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			return deps.Todos.List(ctx, project, session)
		},
	}, "get_todo_list")

	r.Register(&Tool{
		Name:        "get_all_todos",
		Description: "List every agent's todos with per-agent aggregates.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			records, err := deps.Agents.List(ctx, project)
			if err != nil {
				return nil, err
			}
			meta := make(map[string]todos.AgentMeta, len(records))
			for _, rec := range records {
				meta[rec.SessionName] = todos.AgentMeta{Description: rec.Description, TaskID: rec.TaskID}
			}
			return deps.Todos.ListAll(ctx, project, meta)
		},
	})

	r.Register(&Tool{
		Name:        "update_todo_list",
		Description: "Bulk-replace the caller's entire todo list.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "items"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"items":        {Type: "array"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			raw, ok := args["items"].([]interface{})
			if !ok {
				return nil, fmt.Errorf("items must be an array")
			}
			items, err := decodeItems(raw)
			if err != nil {
				return nil, err
			}
			if err := deps.Todos.Replace(ctx, project, session, items); err != nil {
				return nil, err
			}
			return map[string]string{"status": "updated"}, nil
		},
	})

	r.Register(&Tool{
		Name:        "query_agent",
		Description: "Send a message to another agent, optionally blocking for a response.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "from", "to", "query"},
			Properties: map[string]*PropertySchema{
				"project_id":        {Type: "string"},
				"from":              {Type: "string"},
				"to":                {Type: "string"},
				"query_type":        {Type: "string"},
				"query":             {Type: "string"},
				"wait_for_response": {Type: "boolean"},
				"timeout":           {Type: "integer"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			from, err := strArg(args, "from")
			if err != nil {
				return nil, err
			}
			to, err := strArg(args, "to")
			if err != nil {
				return nil, err
			}
			query, err := strArg(args, "query")
			if err != nil {
				return nil, err
			}
			wait := boolArgOpt(args, "wait_for_response", false)
			timeout := durationArgOpt(args, "timeout", 30*time.Second)
			return deps.Messaging.Send(ctx, project, from, to, strArgOpt(args, "query_type", ""), query, wait, timeout)
		},
	}, "send_message")

	r.Register(&Tool{
		Name:        "check_messages",
		Description: "Atomically read and clear the caller's inbox.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "session_name"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "session_name": {Type: "string"}},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			return deps.Messaging.Check(ctx, project, session)
		},
	}, "get_messages")

	r.Register(&Tool{
		Name:        "respond_to_query",
		Description: "Answer a pending query by its message id.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "from", "to", "message_id", "response"},
			Properties: map[string]*PropertySchema{
				"project_id": {Type: "string"},
				"from":       {Type: "string"},
				"to":         {Type: "string"},
				"message_id": {Type: "string"},
				"response":   {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			from, err := strArg(args, "from")
			if err != nil {
				return nil, err
			}
			to, err := strArg(args, "to")
			if err != nil {
				return nil, err
			}
			messageID, err := strArg(args, "message_id")
			if err != nil {
				return nil, err
			}
			response, err := strArg(args, "response")
			if err != nil {
				return nil, err
			}
			if err := deps.Messaging.Respond(ctx, project, from, to, messageID, response); err != nil {
				return nil, err
			}
			return map[string]string{"status": "sent"}, nil
		},
	})

	r.Register(&Tool{
		Name:        "announce_file_change",
		Description: "Claim an exclusive advisory lock on a file path.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "file_path", "change_type"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"file_path":    {Type: "string"},
				"change_type":  {Type: "string"},
				"description":  {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			filePath, err := strArg(args, "file_path")
			if err != nil {
				return nil, err
			}
			changeType, err := strArg(args, "change_type")
			if err != nil {
				return nil, err
			}
			return deps.Locks.Announce(ctx, project, session, filePath, changeType, strArgOpt(args, "description", ""))
		},
	}, "register_file_change")

	r.Register(&Tool{
		Name:        "release_file_lock",
		Description: "Release a file lock owned by the caller.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "file_path"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"file_path":    {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			filePath, err := strArg(args, "file_path")
			if err != nil {
				return nil, err
			}
			return deps.Locks.Release(ctx, project, session, filePath)
		},
	}, "release_file")

	r.Register(&Tool{
		Name:        "check_file_conflicts",
		Description: "Report the currently held locks among a batch of file paths.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "file_paths"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "file_paths": {Type: "array"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			filePaths, err := strArrArg(args, "file_paths")
			if err != nil {
				return nil, err
			}
			conflicts := make([]fileConflict, 0, len(filePaths))
			for _, filePath := range filePaths {
				lock, err := deps.Locks.Check(ctx, project, filePath)
				if err != nil {
					return nil, err
				}
				if lock == nil {
					continue
				}
				conflicts = append(conflicts, fileConflict{Lock: lock, FilePath: filePath})
			}
			return map[string]interface{}{"conflicts": conflicts}, nil
		},
	})

	r.Register(&Tool{
		Name:        "register_interface",
		Description: "Register or overwrite a named shared type/interface definition.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "name", "definition"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"name":         {Type: "string"},
				"definition":   {Type: "string"},
				"file_path":    {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			name, err := strArg(args, "name")
			if err != nil {
				return nil, err
			}
			definition, err := strArg(args, "definition")
			if err != nil {
				return nil, err
			}
			return deps.Interfaces.Register(ctx, project, session, name, definition, strArgOpt(args, "file_path", ""))
		},
	})

	r.Register(&Tool{
		Name:        "query_interface",
		Description: "Look up a named interface, falling back to fuzzy matches.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id", "name"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}, "name": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			name, err := strArg(args, "name")
			if err != nil {
				return nil, err
			}
			return deps.Interfaces.Query(ctx, project, name)
		},
	})

	r.Register(&Tool{
		Name:        "list_interfaces",
		Description: "List every registered interface definition in the project.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			return deps.Interfaces.List(ctx, project)
		},
	})

	r.Register(&Tool{
		Name:        "get_recent_changes",
		Description: "Return the bounded recent-change log for the project.",
		Schema: &ParameterSchema{
			Required:   []string{"project_id"},
			Properties: map[string]*PropertySchema{"project_id": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			return deps.Locks.RecentChanges(ctx, project)
		},
	})

	r.Register(&Tool{
		Name:        "broadcast_message",
		Description: "Send a message to every other registered agent in the project.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "message"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"message":      {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			message, err := strArg(args, "message")
			if err != nil {
				return nil, err
			}
			count, err := deps.Messaging.Broadcast(ctx, project, session, message)
			if err != nil {
				return nil, err
			}
			return map[string]int{"recipients": count}, nil
		},
	})

	r.Register(&Tool{
		Name:        "mark_task_completed",
		Description: "Record task completion and flip the agent's status.",
		Schema: &ParameterSchema{
			Required: []string{"project_id", "session_name", "task_id"},
			Properties: map[string]*PropertySchema{
				"project_id":   {Type: "string"},
				"session_name": {Type: "string"},
				"task_id":      {Type: "string"},
			},
		},
		ArmsHeartbeat: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			project, err := strArg(args, "project_id")
			if err != nil {
				return nil, err
			}
			session, err := strArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			taskID, err := strArg(args, "task_id")
			if err != nil {
				return nil, err
			}
			return deps.Completion.MarkCompleted(ctx, project, session, taskID)
		},
	})

	return r
}

func decodeItems(raw []interface{}) ([]todos.Item, error) {
	items := make([]todos.Item, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("todo item must be an object")
		}
		item := todos.Item{
			ID:       strArgOpt(m, "id", ""),
			Text:     strArgOpt(m, "text", ""),
			Status:   strArgOpt(m, "status", todos.StatusPending),
			Priority: intArgOpt(m, "priority", 1),
		}
		items = append(items, item)
	}
	return items, nil
}
