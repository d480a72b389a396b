package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssebot/internal/sse"
)

type recordingListener struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (l *recordingListener) SubscriberAdded(sub *sse.Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, sub.Token)
}

func (l *recordingListener) SubscriberRemoved(sub *sse.Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, sub.Token)
}

func newSub(token string, md sse.Metadata, types ...string) *sse.Subscriber {
	return sse.NewSubscriber(1, token, md, 4, types...)
}

func tokens(subs []*sse.Subscriber) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Token)
	}
	return out
}

func TestAddRemoveIdempotent(t *testing.T) {
	l := &recordingListener{}
	r := New(l)
	s := newSub("a", sse.Metadata{sse.StreamIDKey: "X"})

	require.True(t, r.Add(s))
	require.False(t, r.Add(s))
	assert.Equal(t, 1, r.Len())

	require.True(t, r.Remove(s))
	require.False(t, r.Remove(s))
	assert.Equal(t, 0, r.Len())

	assert.Equal(t, []string{"a"}, l.added)
	assert.Equal(t, []string{"a"}, l.removed)
}

func TestRemoveIgnoresStaleSubscriberWithSameToken(t *testing.T) {
	r := New(nil)
	first := newSub("a", nil)
	second := newSub("a", nil)

	require.True(t, r.Add(first))
	require.False(t, r.Remove(second))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestMatch(t *testing.T) {
	r := New(nil)
	r.Add(newSub("x", sse.Metadata{sse.StreamIDKey: "X"}))
	r.Add(newSub("y", sse.Metadata{sse.StreamIDKey: "Y"}))
	r.Add(newSub("all", sse.Metadata{"other": "ignored"}))
	r.Add(newSub("typed", sse.Metadata{sse.StreamIDKey: "X"}, "presence"))

	tests := []struct {
		name  string
		event sse.Event
		want  []string
	}{
		{
			name:  "stream routed",
			event: sse.Event{Type: "update", Metadata: sse.Metadata{sse.StreamIDKey: "X"}},
			want:  []string{"x", "all"},
		},
		{
			name:  "other stream",
			event: sse.Event{Type: "update", Metadata: sse.Metadata{sse.StreamIDKey: "Y", "other": "mismatch"}},
			want:  []string{"y", "all"},
		},
		{
			name:  "event without stream reaches everyone",
			event: sse.Event{Type: "update"},
			want:  []string{"x", "y", "all"},
		},
		{
			name:  "type filter",
			event: sse.Event{Type: "presence", Metadata: sse.Metadata{sse.StreamIDKey: "X"}},
			want:  []string{"x", "all", "typed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, tokens(r.Match(tt.event)))
		})
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := New(nil)
	a := newSub("a", nil)
	r.Add(a)

	snap := r.Snapshot()
	r.Remove(a)
	r.Add(newSub("b", nil))

	assert.Equal(t, []string{"a"}, tokens(snap))
	assert.Equal(t, []string{"b"}, tokens(r.Snapshot()))
}

type reentrantListener struct {
	r *Registry
	n int
}

func (l *reentrantListener) SubscriberAdded(*sse.Subscriber) { l.n = l.r.Len() }

func (l *reentrantListener) SubscriberRemoved(*sse.Subscriber) { l.n = l.r.Len() }

func TestListenerMayReenter(t *testing.T) {
	l := &reentrantListener{}
	r := New(l)
	l.r = r

	s := newSub("a", nil)
	r.Add(s)
	assert.Equal(t, 1, l.n)
	r.Remove(s)
	assert.Equal(t, 0, l.n)
}

func TestConcurrentMutationAndMatch(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		s := newSub(string(rune('a'+i%26))+string(rune('0'+i/26)), sse.Metadata{sse.StreamIDKey: "X"})
		go func() {
			defer wg.Done()
			r.Add(s)
			r.Remove(s)
		}()
		go func() {
			defer wg.Done()
			_ = r.Match(sse.Event{Type: "update", Metadata: sse.Metadata{sse.StreamIDKey: "X"}})
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
