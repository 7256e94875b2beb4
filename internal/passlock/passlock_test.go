package passlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/postsync/internal/apperr"
)

func TestLocalFailsFastWhenHeld(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), false)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, apperr.ErrBusy)

	release()
	release()

	again, err := l.Acquire(context.Background(), false)
	require.NoError(t, err)
	again()
}

func TestLocalWaits(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), false)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), true)
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLocalWaitHonoursContext(t *testing.T) {
	l := NewLocal()
	release, _ := l.Acquire(context.Background(), false)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://"+mr.Addr(), time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisExclusive(t *testing.T) {
	a, mr := newTestRedis(t)
	b := NewRedisWithClient(a.client, time.Minute, nil)

	release, err := a.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultKey))

	_, err = b.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, apperr.ErrBusy)

	release()
	assert.False(t, mr.Exists(DefaultKey))

	release2, err := b.Acquire(context.Background(), false)
	require.NoError(t, err)
	release2()
}

func TestRedisReleaseKeepsForeignLease(t *testing.T) {
	r, mr := newTestRedis(t)
	release, err := r.Acquire(context.Background(), false)
	require.NoError(t, err)

	// The lease expired and another process took it over.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set(DefaultKey, "someone-else"))

	release()
	got, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisWaitAcquiresAfterRelease(t *testing.T) {
	r, _ := newTestRedis(t)
	release, err := r.Acquire(context.Background(), false)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	second, err := r.Acquire(ctx, true)
	require.NoError(t, err)
	second()
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url", time.Minute, nil)
	assert.Error(t, err)
}
