// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package mcperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	a := New(KindConflict, "locked by s-1")
	b := New(KindConflict, "locked by s-2")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(KindNotFound, "nope")))
}

func TestWrapPreservesKind(t *testing.T) {
	original := New(KindNotOwner, "not your lock")
	wrapped := Wrap(original, "release failed")

	require.Equal(t, KindNotOwner, wrapped.Kind)
	assert.True(t, errors.Is(wrapped, ErrNotOwner))
}

func TestWrapUnknownErrorBecomesInternal(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "store call failed")
	require.Equal(t, KindInternal, wrapped.Kind)
	assert.ErrorContains(t, wrapped, "boom")
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := New(KindConflict, "locked")
	withDetail := base.WithDetail("session", "s-1")

	assert.Nil(t, base.Details)
	assert.Equal(t, "s-1", withDetail.Details["session"])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(ErrTimeout))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
