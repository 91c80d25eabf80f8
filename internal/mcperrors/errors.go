// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mcperrors provides the categorized error kinds the coordination
// engine surfaces to tool callers (never as transport errors).
package mcperrors

import (
	"errors"
	"fmt"
)

// Kind is the category of a coordination-engine error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindNotOwner           Kind = "not_owner"
	KindUnknownRecipient   Kind = "unknown_recipient"
	KindTimeout            Kind = "timeout"
	KindInvalidArguments   Kind = "invalid_arguments"
	KindInternal           Kind = "internal"
)

// Error is a structured error carrying a stable Kind plus optional details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by Kind, so errors.Is(err, mcperrors.New(KindConflict, ""))
// works regardless of message/details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps err as an internal Error, preserving an existing Kind if err is
// already one of ours.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: message, Details: e.Details, Err: err}
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// WithDetail returns a copy of e with an added detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, Err: e.Err}
}

// KindOf extracts the Kind of err, returning KindInternal if err is not one
// of ours (or is nil, signaled by returning "" so callers can branch).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailsOf extracts the Details of err, or nil if err is not one of ours
// or carries no details. Used at the dispatch boundary so structured
// payloads (e.g. the conflicting lock_info) survive onto the wire instead
// of being flattened into the error string.
func DetailsOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Predefined sentinels mirroring spec §7's error kinds.
var (
	ErrNotFound         = New(KindNotFound, "resource not found")
	ErrConflict         = New(KindConflict, "resource already locked")
	ErrNotOwner         = New(KindNotOwner, "caller does not own this resource")
	ErrUnknownRecipient = New(KindUnknownRecipient, "recipient is not registered")
	ErrTimeout          = New(KindTimeout, "operation timed out")
	ErrInvalidArguments = New(KindInvalidArguments, "invalid arguments")
)
