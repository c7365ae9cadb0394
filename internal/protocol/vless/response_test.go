package vless

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildResponse(t *testing.T) {
	assert.Equal(t, []byte{0, 0}, BuildResponse(0))
	assert.Equal(t, []byte{7, 0}, BuildResponse(7))
}
