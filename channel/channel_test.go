package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// affinityChannel fails the test if Inject is ever entered concurrently.
type affinityChannel struct {
	t        *testing.T
	inFlight int32
	mu       sync.Mutex
	injected []string
	block    chan struct{}
	closed   bool
}

func (c *affinityChannel) Inject(code string) error {
	if !atomic.CompareAndSwapInt32(&c.inFlight, 0, 1) {
		c.t.Errorf("concurrent Inject detected for %q", code)
	}
	defer atomic.StoreInt32(&c.inFlight, 0)

	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.injected = append(c.injected, code)
	c.mu.Unlock()
	return nil
}

func (c *affinityChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *affinityChannel) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.injected...)
}

func TestOwner_PreservesOrderAndAffinity(t *testing.T) {
	ch := &affinityChannel{t: t}
	owner := NewOwner(ch, nil)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				require.NoError(t, owner.Post(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(ch.snapshot()) == 200 }, time.Second, 5*time.Millisecond)

	last := map[string]int{}
	for _, code := range ch.snapshot() {
		var p, i int
		_, err := fmt.Sscanf(code, "%d:%d", &p, &i)
		require.NoError(t, err)
		key := fmt.Sprint(p)
		if prev, ok := last[key]; ok {
			assert.Greater(t, i, prev, "producer %d delivered out of order", p)
		}
		last[key] = i
	}

	require.NoError(t, owner.Close())
	assert.True(t, ch.closed)
}

func TestOwner_StopDropsQueuedAndRejectsNew(t *testing.T) {
	ch := &affinityChannel{t: t, block: make(chan struct{})}
	owner := NewOwner(ch, nil)

	require.NoError(t, owner.Post("first"))
	require.NoError(t, owner.Post("second"))
	require.NoError(t, owner.Post("third"))

	// Stop does not wait for the blocked injection.
	owner.Stop()
	assert.True(t, errors.Is(owner.Post("late"), ErrClosed))
	owner.Stop()

	ch.mu.Lock()
	assert.False(t, ch.closed, "Stop must not release the channel")
	ch.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- owner.Close() }()

	close(ch.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("owner did not close")
	}

	injected := ch.snapshot()
	assert.LessOrEqual(t, len(injected), 1)
	assert.NotContains(t, injected, "second")
	assert.NotContains(t, injected, "third")
	assert.NotContains(t, injected, "late")
	assert.True(t, ch.closed)
	assert.NoError(t, owner.Close())
}

type failingCloser struct{ affinityChannel }

func (c *failingCloser) Close() error { return errors.New("release failed") }

func TestOwner_CloseReleasesOnce(t *testing.T) {
	ch := &failingCloser{affinityChannel{t: t}}
	owner := NewOwner(ch, nil)

	assert.EqualError(t, owner.Close(), "release failed")
	assert.EqualError(t, owner.Close(), "release failed")
	assert.True(t, errors.Is(owner.Post("late"), ErrClosed))
}
