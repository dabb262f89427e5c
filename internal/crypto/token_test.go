// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureTokenLength(t *testing.T) {
	t.Parallel()

	token, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.Len(t, token, 64, "hex encoding doubles the byte length")
}

func TestGenerateSecureTokenIsUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := GenerateSecureToken(32)
		require.NoError(t, err)
		require.False(t, seen[token], "generated a duplicate token")
		seen[token] = true
	}
}
