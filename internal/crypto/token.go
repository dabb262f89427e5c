// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crypto provides the secure random token generation the
// transaction coordinator uses for transaction identifiers.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecureToken generates a cryptographically secure random
// token of the specified byte length, returned as a hex-encoded
// string. For example, length=32 produces a 64-character hex string.
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
