// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package dispatch

import (
	"time"

	"github.com/a2amcp/mcp-coordinator/internal/mcperrors"
)

func strArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", mcperrors.ErrInvalidArguments.WithDetail("missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", mcperrors.ErrInvalidArguments.WithDetail("field", key).WithDetail("expected_type", "string")
	}
	return s, nil
}

func strArrArg(args map[string]interface{}, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, mcperrors.ErrInvalidArguments.WithDetail("missing", key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, mcperrors.ErrInvalidArguments.WithDetail("field", key).WithDetail("expected_type", "array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, mcperrors.ErrInvalidArguments.WithDetail("field", key).WithDetail("expected_type", "array of string")
		}
		out = append(out, s)
	}
	return out, nil
}

func strArgOpt(args map[string]interface{}, key, fallback string) string {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

func intArgOpt(args map[string]interface{}, key string, fallback int) int {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return fallback
	}
}

func boolArgOpt(args map[string]interface{}, key string, fallback bool) bool {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

func durationArgOpt(args map[string]interface{}, key string, fallback time.Duration) time.Duration {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Second
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	default:
		return fallback
	}
}
