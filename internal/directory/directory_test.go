package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"ssebot/internal/sse/metrics"
)

type fakeStore struct {
	mu    sync.Mutex
	users map[uint64]User
	err   error
	calls int
}

func (s *fakeStore) Get(_ context.Context, userID uint64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func TestCachedDirectoryTiers(t *testing.T) {
	store := &fakeStore{users: map[uint64]User{42: {ID: 42, Username: "jane", DisplayName: "Jane"}}}
	d, err := NewCachedDirectory(store, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := d.Lookup(ctx, 42, true)
	require.NoError(t, err)
	assert.Nil(t, u, "local tier starts empty")
	assert.Equal(t, 0, store.calls)

	u, err = d.Lookup(ctx, 42, false)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Jane", u.DisplayName)
	assert.True(t, d.Cached(42))

	u, err = d.Lookup(ctx, 42, true)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "jane", u.Username)
	assert.Equal(t, 1, store.calls)
}

func revision(u User, cas uint64) User {
	u.SetCas(cas)
	return u
}

func TestCachedDirectoryKeepsSameRevision(t *testing.T) {
	store := &fakeStore{users: map[uint64]User{1: revision(User{ID: 1, DisplayName: "Jane"}, 7)}}
	d, err := NewCachedDirectory(store, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.Lookup(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), d.Revision(1))

	store.mu.Lock()
	store.users[1] = revision(User{ID: 1, DisplayName: "ignored"}, 7)
	store.mu.Unlock()

	_, err = d.Lookup(ctx, 1, false)
	require.NoError(t, err)
	u, err := d.Lookup(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "Jane", u.DisplayName, "same revision is not rewritten")

	store.mu.Lock()
	store.users[1] = revision(User{ID: 1, DisplayName: "Jane Doe"}, 8)
	store.mu.Unlock()

	_, err = d.Lookup(ctx, 1, false)
	require.NoError(t, err)
	u, err = d.Lookup(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", u.DisplayName)
	assert.Equal(t, uint64(8), d.Revision(1))
	assert.Equal(t, uint64(0), d.Revision(2))
}

func TestCachedDirectoryNotFound(t *testing.T) {
	d, err := NewCachedDirectory(&fakeStore{}, time.Minute, zap.NewNop())
	require.NoError(t, err)

	u, err := d.Lookup(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.False(t, d.Cached(7))
}

func TestCachedDirectoryStoreError(t *testing.T) {
	boom := errors.New("timeout")
	d, err := NewCachedDirectory(&fakeStore{err: boom}, time.Minute, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Lookup(context.Background(), 7, false)
	assert.ErrorIs(t, err, boom)
}

func TestCachedDirectoryExpiry(t *testing.T) {
	store := &fakeStore{users: map[uint64]User{1: {ID: 1}}}
	d, err := NewCachedDirectory(store, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Lookup(context.Background(), 1, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		u, err := d.Lookup(context.Background(), 1, true)
		return err == nil && u == nil
	}, time.Second, 5*time.Millisecond)
}

func TestNewCachedDirectoryValidates(t *testing.T) {
	_, err := NewCachedDirectory(nil, time.Minute, zap.NewNop())
	require.Error(t, err)

	_, err = NewCachedDirectory(&fakeStore{}, 0, zap.NewNop())
	require.Error(t, err)
}

func TestMetricsDirectory(t *testing.T) {
	store := &fakeStore{users: map[uint64]User{1: {ID: 1}}}
	cached, err := NewCachedDirectory(store, time.Minute, zap.NewNop())
	require.NoError(t, err)

	registry := metrics.NewRegistry()
	d := NewMetricsDirectory(cached, registry)
	ctx := context.Background()

	_, _ = d.Lookup(ctx, 1, true)
	_, _ = d.Lookup(ctx, 1, false)
	_, _ = d.Lookup(ctx, 1, true)
	_, _ = d.Lookup(ctx, 2, false)

	count, err := testutil.GatherAndCount(registry.Gatherer(), "ssebot_directory_lookup_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "local/miss, local/hit, authoritative/hit, authoritative/miss")
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "user::42", UserKey(42))
}
