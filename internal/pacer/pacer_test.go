package pacer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallReturnsImmediatelyOnSuccess(t *testing.T) {
	p := New(MinSleep(time.Millisecond), MaxSleep(5*time.Millisecond))
	calls := 0
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesUntilSuccess(t *testing.T) {
	p := New(MinSleep(time.Millisecond), MaxSleep(5*time.Millisecond), MaxRetries(10))
	calls := 0
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	p := New(MinSleep(time.Millisecond), MaxSleep(2*time.Millisecond), MaxRetries(3))
	calls := 0
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		return true, errors.New("still failing")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallHonorsContextCancellation(t *testing.T) {
	p := New(MinSleep(50*time.Millisecond), MaxSleep(time.Second), MaxRetries(100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Call(ctx, func() (bool, error) {
		return true, errors.New("keep going")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetReturnsToMinSleep(t *testing.T) {
	p := New(MinSleep(time.Millisecond), MaxSleep(time.Second), DecayConstant(4))
	p.nextSleep()
	p.nextSleep()
	p.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, p.minSleep, p.sleepTime)
}
