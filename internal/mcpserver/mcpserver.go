// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mcpserver is the transport stub that puts internal/dispatch on
// the wire: a newline-delimited JSON loop over stdio. Framing is
// deliberately out of scope (spec §1); this package exists only so
// cmd/mcp-coordinator has something to run.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/a2amcp/mcp-coordinator/internal/dispatch"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
)

// Request is one line of input: a tool call scoped to a project and,
// usually, a calling agent session.
type Request struct {
	ID        string                 `json:"id,omitempty"`
	Project   string                 `json:"project_id"`
	Session   string                 `json:"session_name,omitempty"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Response wraps a dispatch.Result with the request ID it answers, so
// callers can correlate replies on a shared connection.
type Response struct {
	ID string `json:"id,omitempty"`
	*dispatch.Result
}

// Server reads Requests and writes Responses, one JSON object per line.
type Server struct {
	registry *dispatch.Registry
	log      logging.Logger
}

// New constructs a Server around an already-wired dispatch.Registry.
func New(registry *dispatch.Registry, log logging.Logger) *Server {
	return &Server{registry: registry, log: log}
}

// Serve reads newline-delimited JSON requests from r and writes
// newline-delimited JSON responses to w until r is exhausted or ctx is
// canceled. A malformed line yields an invalid_arguments Response rather
// than aborting the loop, so one bad client message doesn't kill the
// session.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(&Response{Result: &dispatch.Result{
				Success: false,
				Error:   "malformed request: " + err.Error(),
				Kind:    "invalid_arguments",
			}}); encErr != nil {
				return encErr
			}
			continue
		}

		result := s.registry.Call(ctx, req.Project, req.Session, req.Tool, req.Arguments)
		if err := enc.Encode(&Response{ID: req.ID, Result: result}); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
