package tasktracker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/tasktracker"
)

func TestCloseAwaitsInFlightTasks(t *testing.T) {
	tr := tasktracker.New(nil)
	var done atomic.Bool
	tr.Spawn(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	})

	require.NoError(t, tr.Close(context.Background()))
	assert.True(t, done.Load(), "Close must block until spawned work finishes")
}

func TestSpawnAfterCloseIsNoOp(t *testing.T) {
	tr := tasktracker.New(nil)
	require.NoError(t, tr.Close(context.Background()))

	var ran atomic.Bool
	tr.Spawn(func() { ran.Store(true) })
	time.Sleep(5 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestSpawnRecoversPanic(t *testing.T) {
	tr := tasktracker.New(nil)
	tr.Spawn(func() { panic("boom") })
	require.NoError(t, tr.Close(context.Background()))
}

func TestCloseRespectsContextDeadline(t *testing.T) {
	tr := tasktracker.New(nil)
	tr.Spawn(func() { time.Sleep(100 * time.Millisecond) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := tr.Close(ctx)
	assert.Error(t, err)
}
