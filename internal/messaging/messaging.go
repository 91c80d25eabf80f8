// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package messaging implements C6: per-agent FIFO inboxes, point-to-point
// send, broadcast, and request/response correlation with a bounded wait.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/a2amcp/mcp-coordinator/internal/keys"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/mcperrors"
	"github.com/a2amcp/mcp-coordinator/internal/store"
)

// Message types, per spec §3.
const (
	TypeQuery     = "query"
	TypeResponse  = "response"
	TypeBroadcast = "broadcast"
)

// Event type tags, indistinguishable from regular messages on the wire.
const (
	EventAgentJoined         = "agent_joined"
	EventAgentLeft           = "agent_left"
	EventAgentTimeout        = "agent_timeout"
	EventFileChangeAnnounced = "file_change_announced"
	EventFileLockReleased    = "file_lock_released"
	EventInterfaceRegistered = "interface_registered"
	EventTodoCompleted       = "todo_completed"
	EventTodoUpdate          = "todo_update"
)

// Message is a record in an agent's FIFO inbox.
type Message struct {
	ID               string      `json:"id"`
	From             string      `json:"from"`
	Type             string      `json:"type"`
	QueryType        string      `json:"query_type,omitempty"`
	ResponseTo       string      `json:"response_to,omitempty"`
	Content          interface{} `json:"content"`
	Timestamp        string      `json:"timestamp"`
	RequiresResponse bool        `json:"requires_response,omitempty"`

	// respondent is not serialized; it records who this message was
	// addressed to. The response wait does not read it: waitForResponse
	// checks a reply's sender against its own `to` argument.
	respondent string
}

// SendResult is returned by Send.
type SendResult struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Response interface{} `json:"response,omitempty"`
}

// Bus is the messaging surface used by tool handlers and by every other
// component that needs to broadcast an event.
type Bus struct {
	store       store.Store
	log         logging.Logger
	pollInterval time.Duration
	now         func() time.Time
}

// New constructs a Bus.
func New(st store.Store, log logging.Logger, pollInterval time.Duration) *Bus {
	return &Bus{store: st, log: log, pollInterval: pollInterval, now: time.Now}
}

func (b *Bus) timestamp() string {
	return b.now().UTC().Format(time.RFC3339Nano)
}

// recipientExists reports whether `to` is a currently registered agent.
func (b *Bus) recipientExists(ctx context.Context, project, to string) (bool, error) {
	return b.store.HExists(ctx, keys.Agents(project), to)
}

func (b *Bus) push(ctx context.Context, project, session string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.store.RPush(ctx, keys.Messages(project, session), string(data))
}

// Send delivers content from `from` to `to`. If waitForResponse is false it
// returns immediately with {status: "sent", id}. If true, it blocks (up to
// timeout) for a matching response via waitForResponse.
func (b *Bus) Send(ctx context.Context, project, from, to, queryType string, content interface{}, waitForResponse bool, timeout time.Duration) (*SendResult, error) {
	exists, err := b.recipientExists(ctx, project, to)
	if err != nil {
		return nil, fmt.Errorf("check recipient: %w", err)
	}
	if !exists {
		return nil, mcperrors.ErrUnknownRecipient.WithDetail("to", to)
	}

	id := fmt.Sprintf("%s-%s", from, uuid.NewString())
	msg := Message{
		ID:               id,
		From:             from,
		Type:             TypeQuery,
		QueryType:        queryType,
		Content:          content,
		Timestamp:        b.timestamp(),
		RequiresResponse: waitForResponse,
		respondent:       to,
	}

	if err := b.push(ctx, project, to, msg); err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}

	if !waitForResponse {
		return &SendResult{Status: "sent", ID: id}, nil
	}

	content, ok, err := b.waitForResponse(ctx, project, from, to, id, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SendResult{Status: "timeout"}, nil
	}
	return &SendResult{Status: "received", Response: content}, nil
}

// waitForResponse polls from's own inbox every pollInterval, looking for a
// response to id originating from `to`. On match it removes exactly that
// element (positional remove-by-value) and returns its content.
func (b *Bus) waitForResponse(ctx context.Context, project, from, to, id string, timeout time.Duration) (interface{}, bool, error) {
	deadline := b.now().Add(timeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	check := func() (interface{}, bool, error) {
		inboxKey := keys.Messages(project, from)
		raw, err := b.store.LRange(ctx, inboxKey, 0, -1)
		if err != nil {
			return nil, false, fmt.Errorf("poll inbox: %w", err)
		}
		for _, item := range raw {
			var m Message
			if err := json.Unmarshal([]byte(item), &m); err != nil {
				continue
			}
			if m.Type == TypeResponse && m.ResponseTo == id && m.From == to {
				if err := b.store.LRem(ctx, inboxKey, 1, item); err != nil {
					return nil, false, fmt.Errorf("remove matched response: %w", err)
				}
				return m.Content, true, nil
			}
		}
		return nil, false, nil
	}

	if content, ok, err := check(); err != nil || ok {
		return content, ok, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
			if b.now().After(deadline) {
				return nil, false, nil
			}
			content, ok, err := check()
			if err != nil {
				return nil, false, err
			}
			if ok {
				return content, true, nil
			}
		}
	}
}

// Respond appends a response message to `to`'s inbox, correlated to
// responseToID.
func (b *Bus) Respond(ctx context.Context, project, from, to, responseToID string, content interface{}) error {
	msg := Message{
		ID:         fmt.Sprintf("%s-%s", from, uuid.NewString()),
		From:       from,
		Type:       TypeResponse,
		ResponseTo: responseToID,
		Content:    content,
		Timestamp:  b.timestamp(),
	}
	return b.push(ctx, project, to, msg)
}

// Check atomically reads and clears session's inbox, returning messages in
// FIFO order. A message enqueued after the read (but before the delete)
// remains for the next Check call.
func (b *Bus) Check(ctx context.Context, project, session string) ([]Message, error) {
	inboxKey := keys.Messages(project, session)
	raw, err := b.store.LRange(ctx, inboxKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	// Trim away exactly the elements just read rather than deleting the
	// key, so anything pushed after the LRange survives.
	if err := b.store.LTrim(ctx, inboxKey, int64(len(raw)), -1); err != nil {
		return nil, fmt.Errorf("clear inbox: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			b.log.Warn(ctx, "dropping unparseable message", logging.String("project_id", project), logging.String("session", session), logging.Err(err))
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Broadcast appends a broadcast message to every registered agent except
// `from`. Returns the number of recipients.
func (b *Bus) Broadcast(ctx context.Context, project, from string, content interface{}) (int, error) {
	return b.broadcast(ctx, project, from, TypeBroadcast, content)
}

// BroadcastEvent is used internally by C3/C5/C7/C8 to notify other agents of
// lifecycle events. exclude suppresses echo to the originator.
func (b *Bus) BroadcastEvent(ctx context.Context, project, eventType string, content interface{}, exclude string) (int, error) {
	return b.broadcast(ctx, project, exclude, eventType, content)
}

func (b *Bus) broadcast(ctx context.Context, project, exclude, msgType string, content interface{}) (int, error) {
	sessions, err := b.store.HKeys(ctx, keys.Agents(project))
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}

	msg := Message{
		Type:      msgType,
		From:      exclude,
		Content:   content,
		Timestamp: b.timestamp(),
	}

	count := 0
	for _, session := range sessions {
		if session == exclude {
			continue
		}
		msg.ID = fmt.Sprintf("%s-%s", msgType, uuid.NewString())
		if err := b.push(ctx, project, session, msg); err != nil {
			return count, fmt.Errorf("deliver to %s: %w", session, err)
		}
		count++
	}
	return count, nil
}

// DeleteInbox removes session's inbox outright, used by cascade cleanup.
func (b *Bus) DeleteInbox(ctx context.Context, project, session string) error {
	return b.store.Del(ctx, keys.Messages(project, session))
}
