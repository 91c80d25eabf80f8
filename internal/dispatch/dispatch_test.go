// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/a2amcp/mcp-coordinator/internal/agents"
	"github.com/a2amcp/mcp-coordinator/internal/completion"
	"github.com/a2amcp/mcp-coordinator/internal/heartbeat"
	"github.com/a2amcp/mcp-coordinator/internal/interfaces"
	"github.com/a2amcp/mcp-coordinator/internal/locks"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
	"github.com/a2amcp/mcp-coordinator/internal/todos"
)

func newTestRegistry(t *testing.T) (*Registry, *heartbeat.Service, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client)
	log := logging.NewNop()
	bus := messaging.New(st, log, 10*time.Millisecond)
	hb := heartbeat.New(st, log, time.Minute, time.Hour)
	lockMgr := locks.New(st, bus, log, 5*time.Minute, 100)
	todoStore := todos.New(st, bus)
	agentRegistry := agents.New(st, bus, hb, lockMgr, todoStore, log)
	ifaceRegistry := interfaces.New(st, bus)
	sig := completion.New(st, agentRegistry, log, t.TempDir())

	r := Build(Deps{
		Agents:     agentRegistry,
		Heartbeat:  hb,
		Locks:      lockMgr,
		Messaging:  bus,
		Interfaces: ifaceRegistry,
		Todos:      todoStore,
		Completion: sig,
		Log:        log,
	})
	return r, hb, st
}

// Scenario 1: Register/list.
func TestScenarioRegisterList(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	res1 := r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "task_id": "T1", "branch": "feat/x", "description": "d",
	})
	require.True(t, res1.Success)
	require.Empty(t, res1.Output.(*agents.RegisterResult).OtherActiveAgents)

	res2 := r.Call(ctx, "p1", "s-2", "register_agent", map[string]interface{}{
		"project_id": "p1", "session_name": "s-2", "task_id": "T2", "branch": "feat/y", "description": "d2",
	})
	require.True(t, res2.Success)
	others := res2.Output.(*agents.RegisterResult).OtherActiveAgents
	require.Equal(t, []string{"s-1"}, others)

	msgsRes := r.Call(ctx, "p1", "s-1", "check_messages", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1",
	})
	require.True(t, msgsRes.Success)
	msgs := msgsRes.Output.([]messaging.Message)
	require.Len(t, msgs, 1)
	require.Equal(t, messaging.EventAgentJoined, msgs[0].Type)
}

// Scenario 2: File lock conflict.
func TestScenarioFileLockConflict(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})
	r.Call(ctx, "p1", "s-2", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-2"})

	res := r.Call(ctx, "p1", "s-1", "announce_file_change", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "file_path": "src/a.ts", "change_type": "create", "description": "…",
	})
	require.True(t, res.Success)
	require.Equal(t, "locked", res.Output.(*locks.AnnounceResult).Status)

	conflict := r.Call(ctx, "p1", "s-2", "announce_file_change", map[string]interface{}{
		"project_id": "p1", "session_name": "s-2", "file_path": "src/a.ts", "change_type": "modify", "description": "…",
	})
	require.False(t, conflict.Success)
	require.Equal(t, "conflict", conflict.Kind)
	lockInfo, ok := conflict.Details["lock_info"].(*locks.Lock)
	require.True(t, ok)
	require.Equal(t, "s-1", lockInfo.Session)

	// Round-trip through JSON the way internal/mcpserver puts a Result on
	// the wire, so lock_info isn't silently dropped before it gets there.
	wire, err := json.Marshal(conflict)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(wire, &decoded))
	require.Equal(t, "s-1", decoded["details"].(map[string]interface{})["lock_info"].(map[string]interface{})["session"])

	notOwner := r.Call(ctx, "p1", "s-2", "release_file_lock", map[string]interface{}{
		"project_id": "p1", "session_name": "s-2", "file_path": "src/a.ts",
	})
	require.False(t, notOwner.Success)
	require.Equal(t, "not_owner", notOwner.Kind)
	notOwnerLock, ok := notOwner.Details["lock_info"].(*locks.Lock)
	require.True(t, ok)
	require.Equal(t, "s-1", notOwnerLock.Session)

	released := r.Call(ctx, "p1", "s-1", "release_file_lock", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "file_path": "src/a.ts",
	})
	require.True(t, released.Success)
	require.Equal(t, "released", released.Output.(*locks.ReleaseResult).Status)
}

// check_file_conflicts batches over multiple paths and reports only the
// ones currently locked, per original_source/mcp-server-redis.py's
// _check_file_conflicts.
func TestCheckFileConflictsBatch(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})
	r.Call(ctx, "p1", "s-1", "announce_file_change", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "file_path": "src/a.ts", "change_type": "create", "description": "…",
	})

	res := r.Call(ctx, "p1", "s-1", "check_file_conflicts", map[string]interface{}{
		"project_id": "p1", "file_paths": []interface{}{"src/a.ts", "src/b.ts"},
	})
	require.True(t, res.Success)
	conflicts := res.Output.(map[string]interface{})["conflicts"].([]fileConflict)
	require.Len(t, conflicts, 1)
	require.Equal(t, "src/a.ts", conflicts[0].FilePath)
	require.Equal(t, "s-1", conflicts[0].Lock.Session)
}

// Scenario 3: Query/response.
func TestScenarioQueryResponse(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})
	r.Call(ctx, "p1", "s-2", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-2"})

	type outcome struct {
		res *Result
	}
	done := make(chan outcome, 1)
	go func() {
		res := r.Call(ctx, "p1", "s-1", "query_agent", map[string]interface{}{
			"project_id": "p1", "from": "s-1", "to": "s-2",
			"query_type": "interface", "query": "User?", "wait_for_response": true, "timeout": float64(30),
		})
		done <- outcome{res}
	}()

	require.Eventually(t, func() bool {
		checkRes := r.Call(ctx, "p1", "s-2", "check_messages", map[string]interface{}{"project_id": "p1", "session_name": "s-2"})
		if !checkRes.Success {
			return false
		}
		msgs := checkRes.Output.([]messaging.Message)
		if len(msgs) == 0 {
			return false
		}
		respondRes := r.Call(ctx, "p1", "s-2", "respond_to_query", map[string]interface{}{
			"project_id": "p1", "from": "s-2", "to": "s-1",
			"message_id": msgs[0].ID, "response": "has id,email",
		})
		require.True(t, respondRes.Success)
		return true
	}, 2*time.Second, 5*time.Millisecond)

	out := <-done
	require.True(t, out.res.Success)
	sendResult := out.res.Output.(*messaging.SendResult)
	require.Equal(t, "received", sendResult.Status)
	require.Equal(t, "has id,email", sendResult.Response)
}

// Scenario 4: Query timeout.
func TestScenarioQueryTimeout(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})
	r.Call(ctx, "p1", "s-2", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-2"})

	start := time.Now()
	res := r.Call(ctx, "p1", "s-1", "query_agent", map[string]interface{}{
		"project_id": "p1", "from": "s-1", "to": "s-2",
		"query": "User?", "wait_for_response": true, "timeout": float64(1),
	})
	require.True(t, res.Success)
	require.Equal(t, "timeout", res.Output.(*messaging.SendResult).Status)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

// Scenario 5: Heartbeat reaping.
func TestScenarioHeartbeatReaping(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client)
	log := logging.NewNop()
	bus := messaging.New(st, log, 10*time.Millisecond)
	hb := heartbeat.New(st, log, 2*time.Second, 10*time.Millisecond)
	lockMgr := locks.New(st, bus, log, 5*time.Minute, 100)
	todoStore := todos.New(st, bus)
	agentRegistry := agents.New(st, bus, hb, lockMgr, todoStore, log)
	ifaceRegistry := interfaces.New(st, bus)
	sig := completion.New(st, agentRegistry, log, t.TempDir())
	r := Build(Deps{Agents: agentRegistry, Heartbeat: hb, Locks: lockMgr, Messaging: bus, Interfaces: ifaceRegistry, Todos: todoStore, Completion: sig, Log: log})

	ctx := context.Background()
	res := r.Call(ctx, "p1", "s-9", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-9"})
	require.True(t, res.Success)

	_, err := lockMgr.Announce(ctx, "p1", "s-9", "src/a.ts", "create", "")
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = hb.RunReaper(runCtx, agentRegistry, bus)

	listRes := r.Call(ctx, "p1", "s-9", "list_active_agents", map[string]interface{}{"project_id": "p1"})
	require.True(t, listRes.Success)
	records := listRes.Output.([]agents.Record)
	require.Empty(t, records)

	lock, err := lockMgr.Check(ctx, "p1", "src/a.ts")
	require.NoError(t, err)
	require.Nil(t, lock)
}

// Scenario 6: Interface fuzzy match.
func TestScenarioInterfaceFuzzyMatch(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})

	regRes := r.Call(ctx, "p1", "s-1", "register_interface", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "name": "UserProfile", "definition": "…",
	})
	require.True(t, regRes.Success)

	queryRes := r.Call(ctx, "p1", "s-1", "query_interface", map[string]interface{}{"project_id": "p1", "name": "user"})
	require.True(t, queryRes.Success)
	result := queryRes.Output.(*interfaces.QueryResult)
	require.Equal(t, "not_found", result.Status)
	require.Contains(t, result.Similar, "UserProfile")
}

func TestUnknownToolReturnsInvalidArguments(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res := r.Call(context.Background(), "p1", "s-1", "nonexistent_tool", map[string]interface{}{})
	require.False(t, res.Success)
	require.Equal(t, "invalid_arguments", res.Kind)
}

func TestMissingRequiredArgumentIsInvalidArguments(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res := r.Call(context.Background(), "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1"})
	require.False(t, res.Success)
	require.Equal(t, "invalid_arguments", res.Kind)
}

func TestSuccessfulCallReArmsHeartbeat(t *testing.T) {
	r, hb, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Call(ctx, "p1", "s-1", "register_agent", map[string]interface{}{"project_id": "p1", "session_name": "s-1"})

	alive, err := hb.IsAlive(ctx, "p1", "s-1")
	require.NoError(t, err)
	require.True(t, alive)

	r.Call(ctx, "p1", "s-1", "add_todo", map[string]interface{}{
		"project_id": "p1", "session_name": "s-1", "text": "write tests",
	})
	alive, err = hb.IsAlive(ctx, "p1", "s-1")
	require.NoError(t, err)
	require.True(t, alive)
}
