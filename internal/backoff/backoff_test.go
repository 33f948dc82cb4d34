package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordFailureAccumulates(t *testing.T) {
	tr := New(time.Minute, time.Minute)
	assert.Equal(t, 1, tr.RecordFailure("host1"))
	assert.Equal(t, 2, tr.RecordFailure("host1"))
	assert.Equal(t, 3, tr.RecordFailure("host1"))
	assert.Equal(t, 0, tr.Failures("host2"))
}

func TestClearResetsCount(t *testing.T) {
	tr := New(time.Minute, time.Minute)
	tr.RecordFailure("host1")
	tr.RecordFailure("host1")
	tr.Clear("host1")
	assert.Equal(t, 0, tr.Failures("host1"))
}

func TestShouldSkipThreshold(t *testing.T) {
	tr := New(time.Minute, time.Minute)
	for i := 0; i < 3; i++ {
		tr.RecordFailure("host1")
	}
	assert.False(t, tr.ShouldSkip("host1", 5))
	tr.RecordFailure("host1")
	tr.RecordFailure("host1")
	assert.True(t, tr.ShouldSkip("host1", 5))
}

func TestEntryExpires(t *testing.T) {
	tr := New(20*time.Millisecond, 10*time.Millisecond)
	tr.RecordFailure("host1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, tr.Failures("host1"))
}
