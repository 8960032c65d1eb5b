package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLocker struct {
	mu       sync.Mutex
	grant    bool
	acquired []string
	released int
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.grant {
		return nil, false, nil
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, true, nil
}

func TestRunOnceRecordsSuccess(t *testing.T) {
	locker := &recordingLocker{grant: true}
	s := New(locker, nil)

	ran := false
	s.runOnce(context.Background(), Job{
		Key:     "chain-1",
		LockTTL: time.Minute,
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	})

	require.True(t, ran)
	h, ok := s.Health("chain-1")
	require.True(t, ok)
	assert.True(t, h.Healthy())
	assert.False(t, h.LastSuccess.IsZero())
	assert.Equal(t, []string{"dexscope:lock:chain-1"}, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestRunOnceTracksConsecutiveErrors(t *testing.T) {
	s := New(NopLocker{}, nil)
	job := Job{
		Key:     "chain-1",
		LockTTL: time.Minute,
		Run: func(context.Context) error {
			return errors.New("rpc down")
		},
	}

	s.runOnce(context.Background(), job)
	s.runOnce(context.Background(), job)

	h, ok := s.Health("chain-1")
	require.True(t, ok)
	assert.False(t, h.Healthy())
	assert.Equal(t, 2, h.ConsecutiveErrors)
	assert.Equal(t, "rpc down", h.LastError)

	// A good cycle clears the streak.
	job.Run = func(context.Context) error { return nil }
	s.runOnce(context.Background(), job)

	h, _ = s.Health("chain-1")
	assert.True(t, h.Healthy())
	assert.Empty(t, h.LastError)
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := &recordingLocker{grant: false}
	s := New(locker, nil)

	ran := false
	s.runOnce(context.Background(), Job{
		Key:     "chain-1",
		LockTTL: time.Minute,
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	})

	assert.False(t, ran)
	_, ok := s.Health("chain-1")
	assert.False(t, ok, "a skipped cycle is not a health event")
}

func TestRunOnceBoundsCycleByLockTTL(t *testing.T) {
	s := New(NopLocker{}, nil)

	var deadlineSet bool
	s.runOnce(context.Background(), Job{
		Key:     "chain-1",
		LockTTL: time.Minute,
		Run: func(ctx context.Context) error {
			_, deadlineSet = ctx.Deadline()
			return nil
		},
	})

	assert.True(t, deadlineSet)
}

func TestAddValidatesJob(t *testing.T) {
	s := New(nil, nil)
	assert.Error(t, s.Add(context.Background(), Job{Interval: time.Second}))
	assert.Error(t, s.Add(context.Background(), Job{Key: "x"}))
	assert.NoError(t, s.Add(context.Background(), Job{Key: "x", Interval: time.Second, Run: func(context.Context) error { return nil }}))
}
