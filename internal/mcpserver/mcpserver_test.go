// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/a2amcp/mcp-coordinator/internal/agents"
	"github.com/a2amcp/mcp-coordinator/internal/completion"
	"github.com/a2amcp/mcp-coordinator/internal/dispatch"
	"github.com/a2amcp/mcp-coordinator/internal/heartbeat"
	"github.com/a2amcp/mcp-coordinator/internal/interfaces"
	"github.com/a2amcp/mcp-coordinator/internal/locks"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/store"
	"github.com/a2amcp/mcp-coordinator/internal/todos"
)

func newTestServer(t *testing.T) *Server {
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

	registry := dispatch.Build(dispatch.Deps{
		Agents:     agentRegistry,
		Heartbeat:  hb,
		Locks:      lockMgr,
		Messaging:  bus,
		Interfaces: ifaceRegistry,
		Todos:      todoStore,
		Completion: sig,
		Log:        log,
	})
	return New(registry, log)
}

func TestServeDispatchesOneLinePerRequest(t *testing.T) {
	s := newTestServer(t)

	input := `{"id":"1","project_id":"p1","session_name":"s-1","tool":"register_agent","arguments":{"project_id":"p1","session_name":"s-1"}}` + "\n"
	var out bytes.Buffer

	err := s.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(&out).Decode(&resp))
	require.Equal(t, "1", resp.ID)
	require.True(t, resp.Success)
}

func TestServeMalformedLineYieldsInvalidArgumentsAndContinues(t *testing.T) {
	s := newTestServer(t)

	input := "not json\n" +
		`{"id":"2","project_id":"p1","session_name":"s-1","tool":"register_agent","arguments":{"project_id":"p1","session_name":"s-1"}}` + "\n"
	var out bytes.Buffer

	err := s.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var first Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &first))
	require.False(t, first.Success)
	require.Equal(t, "invalid_arguments", first.Kind)

	require.True(t, scanner.Scan())
	var second Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &second))
	require.Equal(t, "2", second.ID)
	require.True(t, second.Success)
}

func TestServeUnknownToolReturnsInvalidArguments(t *testing.T) {
	s := newTestServer(t)

	input := `{"id":"3","project_id":"p1","tool":"does_not_exist","arguments":{}}` + "\n"
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	var resp Response
	require.NoError(t, json.NewDecoder(&out).Decode(&resp))
	require.False(t, resp.Success)
	require.Equal(t, "invalid_arguments", resp.Kind)
}
