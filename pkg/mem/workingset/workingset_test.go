package workingset

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	clock := newClock()
	c := New(WithClock(clock.Now))
	require.Equal(t, 9, c.Capacity())

	var evicted []string
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if id, ok := c.Add(fmt.Sprintf("rec-%d", i)); ok {
			evicted = append(evicted, id)
		}
	}

	assert.Equal(t, []string{"rec-0"}, evicted)
	assert.Equal(t, 9, c.Len())
	assert.Equal(t, []string{
		"rec-1", "rec-2", "rec-3", "rec-4", "rec-5", "rec-6", "rec-7", "rec-8", "rec-9",
	}, c.IDs())
}

func TestCache_RefreshDoesNotDuplicate(t *testing.T) {
	clock := newClock()
	c := New(WithCapacity(3), WithClock(clock.Now))

	c.Add("a")
	clock.Advance(time.Second)
	c.Add("b")
	clock.Advance(time.Second)
	c.Add("c")
	clock.Advance(time.Second)

	_, ok := c.Add("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b", "c", "a"}, c.IDs())
	assert.Equal(t, clock.Now(), c.Entries()[2].EnteredAt)

	// "b" is now the oldest and goes first.
	evicted, ok := c.Add("d")
	assert.True(t, ok)
	assert.Equal(t, "b", evicted)
	assert.Equal(t, []string{"c", "a", "d"}, c.IDs())
}

func TestCache_Sweep(t *testing.T) {
	clock := newClock()
	c := New(WithClock(clock.Now))

	c.Add("old")
	clock.Advance(6 * time.Minute)
	c.Add("young")
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, c.Sweep(clock.Now()))
	assert.False(t, c.Contains("old"))
	assert.True(t, c.Contains("young"))

	disabled := New(WithRetention(0), WithClock(clock.Now))
	disabled.Add("x")
	assert.Zero(t, disabled.Sweep(clock.Now().Add(24*time.Hour)))
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := New()
	c.Add("a")
	c.Add("b")

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, []string{"b"}, c.IDs())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestCache_RunSweepsUntilCancelled(t *testing.T) {
	clock := newClock()
	c := New(WithRetention(time.Minute), WithClock(clock.Now))
	c.Add("stale")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCache_ConcurrentAdds(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(fmt.Sprintf("id-%d", i%20))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, c.Capacity(), c.Len())
	assert.Len(t, c.Entries(), c.Capacity())
}
