// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package keys is the single place that knows the Redis key layout for the
// coordination engine. Every key is namespaced project:{id}:{kind}[:{args}].
package keys

import "strings"

const projectPrefix = "project"

func build(project, kind string, args ...string) string {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, projectPrefix+":"+project, kind)
	parts = append(parts, args...)
	return strings.Join(parts, ":")
}

// Agents is the hash of session -> agent JSON for a project.
func Agents(project string) string {
	return build(project, "agents")
}

// Heartbeat is the TTL-bearing liveness string for one agent.
func Heartbeat(project, session string) string {
	return build(project, "heartbeat", session)
}

// Messages is the FIFO inbox list for one agent.
func Messages(project, session string) string {
	return build(project, "messages", session)
}

// Todos is the ordered list of JSON-encoded todo items for one agent.
func Todos(project, session string) string {
	return build(project, "todos", session)
}

// FileLock is the TTL-bearing lock string for one file path.
func FileLock(project, path string) string {
	return build(project, "files", path)
}

// FileLockPattern is the scan pattern matching every held lock in a
// project, used by the cascade cleanup to find locks owned by a session
// without a secondary owner index.
func FileLockPattern(project string) string {
	return build(project, "files", "*")
}

// Interfaces is the hash of interface name -> definition JSON.
func Interfaces(project string) string {
	return build(project, "interfaces")
}

// RecentChanges is the bounded recent-change log list.
func RecentChanges(project string) string {
	return build(project, "recent_changes")
}

// CompletedTasks is the hash of task ID -> completion JSON.
func CompletedTasks(project string) string {
	return build(project, "completed_tasks")
}

// AgentsPattern is the scan pattern used by the heartbeat reaper to
// enumerate every project's agent hash.
func AgentsPattern() string {
	return "project:*:agents"
}

// ProjectFromAgentsKey extracts the project ID from a key matching
// AgentsPattern, e.g. "project:p1:agents" -> "p1".
func ProjectFromAgentsKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != projectPrefix || parts[2] != "agents" {
		return "", false
	}
	return parts[1], true
}
