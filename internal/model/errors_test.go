package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("set balance", cause)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrPlayerNotFound)
	assert.Equal(t, "storage: set balance: disk full", err.Error())
}

func TestNewStorageErrorNil(t *testing.T) {
	assert.NoError(t, NewStorageError("noop", nil))
}
