package vless

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator(testID)
	assert.NoError(t, auth.Authenticate(testID))

	for i := 0; i < len(testID); i++ {
		other := testID
		other[i] ^= 0x01
		assert.ErrorIs(t, auth.Authenticate(other), ErrAuthFailure, "byte %d", i)
	}
}
