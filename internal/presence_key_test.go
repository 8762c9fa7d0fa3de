package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceKey(t *testing.T) {
	tests := []struct {
		userID   string
		expected string
	}{
		{"user123", "presence:user123"},
		{"", "presence:"},
		{"0b7c1d0e-1f2a-4c3b-9d4e-5f6a7b8c9d0e", "presence:0b7c1d0e-1f2a-4c3b-9d4e-5f6a7b8c9d0e"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, PresenceKey(tc.userID), "PresenceKey(%q)", tc.userID)
	}
}

func TestPresenceKey_DifferentUsersDifferentKeys(t *testing.T) {
	assert.NotEqual(t, PresenceKey("alice"), PresenceKey("bob"))
	assert.Equal(t, PresenceKey("alice"), PresenceKey("alice"))
}
