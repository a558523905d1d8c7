package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu      sync.Mutex
	next    int
	failFor int
	live    map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{live: map[string]bool{}}
}

func (f *fakeRuntime) create(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return "", errors.New("daemon unavailable")
	}
	f.next++
	id := fmt.Sprintf("c%d", f.next)
	f.live[id] = true
	return id, nil
}

func (f *fakeRuntime) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
}

func (f *fakeRuntime) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_FillsAndReplaces(t *testing.T) {
	rt := newFakeRuntime()
	p := newPool(rt, 2, testLogger())
	p.idle = time.Millisecond
	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool { return rt.liveCount() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := p.Acquire(ctx)
	require.NoError(t, err)
	rt.remove(id)

	// The manager tops the pool back up.
	assert.Eventually(t, func() bool { return rt.liveCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPool_RetriesAfterCreateFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor = 3
	p := newPool(rt, 1, testLogger())
	p.backoff = time.Millisecond
	p.idle = time.Millisecond
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor = 1 << 30
	p := newPool(rt, 1, testLogger())
	p.backoff = time.Millisecond
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_StopRemovesIdleContainers(t *testing.T) {
	rt := newFakeRuntime()
	p := newPool(rt, 3, testLogger())
	p.idle = time.Millisecond
	p.Start()

	assert.Eventually(t, func() bool { return rt.liveCount() == 3 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.Equal(t, 0, rt.liveCount())
}
