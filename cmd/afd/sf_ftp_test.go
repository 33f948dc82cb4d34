package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/afd-core/afd/internal/afderr"
)

func TestRecoverableConnectAndTimeoutErrors(t *testing.T) {
	assert.True(t, recoverable(afderr.New("connect", afderr.ConnectError, errors.New("refused"))))
	assert.True(t, recoverable(afderr.New("read", afderr.TimeoutError, errors.New("deadline exceeded"))))
}

func TestRecoverableFalseForAuthErrors(t *testing.T) {
	assert.False(t, recoverable(afderr.FromReply("USER", afderr.UserError, 530, nil)))
	assert.False(t, recoverable(errors.New("plain error")))
}
