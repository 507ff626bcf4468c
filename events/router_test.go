package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (p *recordingPoster) Post(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, code)
	return nil
}

func (p *recordingPoster) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

func TestRenderInvocation(t *testing.T) {
	code, err := RenderInvocation("battery", "console.log(eventData.level);", json.RawMessage(`{"level":42}`))
	require.NoError(t, err)
	assert.Equal(t, "(function(eventName, eventData){ console.log(eventData.level);\n}).call(this, \"battery\", {\"level\":42});", code)

	code, err = RenderInvocation("tick", "x()", nil)
	require.NoError(t, err)
	assert.Contains(t, code, `"tick", null);`)

	_, err = RenderInvocation("bad", "x()", json.RawMessage(`{nope`))
	assert.Error(t, err)
}

func TestRouter_DeliverInOrder(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("battery", "onBattery(eventData)"))

	require.NoError(t, r.Deliver("battery", json.RawMessage(`1`)))
	require.NoError(t, r.Deliver("battery", json.RawMessage(`2`)))

	posts := poster.snapshot()
	require.Len(t, posts, 2)
	assert.Contains(t, posts[0], `"battery", 1);`)
	assert.Contains(t, posts[1], `"battery", 2);`)
}

func TestRouter_UnknownEventIsNoop(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("battery", "onBattery()"))

	assert.NoError(t, r.Deliver("wifi", json.RawMessage(`{}`)))
	assert.Empty(t, poster.snapshot())
}

func TestRouter_LastRegistrationWins(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("battery", "first()"))
	require.NoError(t, r.Register("battery", "second()"))

	h, ok := r.Handler("battery")
	require.True(t, ok)
	assert.Equal(t, "second()", h)

	require.NoError(t, r.Deliver("battery", nil))
	posts := poster.snapshot()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "second()")
	assert.NotContains(t, posts[0], "first()")
}

func TestRouter_Register_EmptyName(t *testing.T) {
	r := NewRouter(&recordingPoster{})
	assert.Error(t, r.Register("", "x()"))
}

func TestRouter_UnregisterAll(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("a", "a()"))
	require.NoError(t, r.Register("b", "b()"))

	r.UnregisterAll()
	require.NoError(t, r.Deliver("a", nil))
	require.NoError(t, r.Deliver("b", nil))
	assert.Empty(t, poster.snapshot())

	require.NoError(t, r.Register("a", "again()"))
	require.NoError(t, r.Deliver("a", nil))
	assert.Len(t, poster.snapshot(), 1)
}

func TestRouter_Close(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("battery", "onBattery()"))

	r.Close()
	assert.True(t, errors.Is(r.Deliver("battery", nil), ErrClosed))
	assert.True(t, errors.Is(r.Register("battery", "x()"), ErrClosed))
	assert.Empty(t, poster.snapshot())

	// OnEvent swallows the error.
	r.OnEvent("battery", nil)
	r.Close()
}

func TestRouter_PostFailure(t *testing.T) {
	r := NewRouter(&recordingPoster{err: errors.New("channel gone")})
	require.NoError(t, r.Register("battery", "onBattery()"))

	err := r.Deliver("battery", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel gone")
}

func TestRouter_RateLimitPreservesOrder(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster, UseRateLimit(1000, 1))
	require.NoError(t, r.Register("tick", "onTick(eventData)"))

	for i := 0; i < 5; i++ {
		b, _ := json.Marshal(i)
		require.NoError(t, r.Deliver("tick", b))
	}

	posts := poster.snapshot()
	require.Len(t, posts, 5)
	for i, p := range posts {
		b, _ := json.Marshal(i)
		assert.Contains(t, p, `"tick", `+string(b)+`);`)
	}
}

func TestRouter_CloseAbandonsThrottledDelivery(t *testing.T) {
	poster := &recordingPoster{}
	r := NewRouter(poster, UseRateLimit(0.001, 1))
	require.NoError(t, r.Register("tick", "onTick()"))
	require.NoError(t, r.Deliver("tick", nil))

	done := make(chan error, 1)
	go func() { done <- r.Deliver("tick", nil) }()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("throttled delivery was not abandoned")
	}
	assert.Len(t, poster.snapshot(), 1)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	p1, p2 := &recordingPoster{}, &recordingPoster{}
	r1, r2 := NewRouter(p1), NewRouter(p2)
	require.NoError(t, r1.Register("battery", "one()"))
	require.NoError(t, r2.Register("battery", "two()"))

	b.AddObserver(r1)
	b.AddObserver(r2)
	b.AddObserver(r1)
	assert.Equal(t, 2, b.Len())

	b.Broadcast("battery", json.RawMessage(`5`))
	assert.Len(t, p1.snapshot(), 1)
	assert.Len(t, p2.snapshot(), 1)

	b.RemoveObserver(r1)
	assert.Equal(t, 1, b.Len())
	b.Broadcast("battery", json.RawMessage(`6`))
	assert.Len(t, p1.snapshot(), 1)
	assert.Len(t, p2.snapshot(), 2)
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Message
		wantErr bool
	}{
		{name: "with data", raw: `{"name":"battery","data":{"level":3}}`, want: Message{Name: "battery", Data: json.RawMessage(`{"level":3}`)}},
		{name: "without data", raw: `{"name":"tick"}`, want: Message{Name: "tick", Data: json.RawMessage(`null`)}},
		{name: "missing name", raw: `{"data":1}`, wantErr: true},
		{name: "not json", raw: `battery`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.JSONEq(t, string(tt.want.Data), string(got.Data))
		})
	}
}

func TestRedisSource_HandleBroadcasts(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	s := NewRedisSource(client, "events", nil)
	defer s.Close()

	poster := &recordingPoster{}
	r := NewRouter(poster)
	require.NoError(t, r.Register("battery", "onBattery(eventData)"))
	s.AddObserver(r)

	s.handle(`{"name":"battery","data":7}`)
	s.handle(`garbage`)

	posts := poster.snapshot()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], `"battery", 7);`)
}

func TestRedisSource_RunFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewRedisSource(client, "events", nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, s.Run(ctx))
}
