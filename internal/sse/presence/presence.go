// Package presence runs per-(stream, user) heartbeat sessions that
// periodically publish a presence event while the user is connected.
package presence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ssebot/internal/directory"
	"ssebot/internal/sse"
	"ssebot/internal/validator"
)

// DefaultInterval is the cadence of presence events.
const DefaultInterval = time.Second

// UserField is the payload key holding the resolved user.
const UserField = "user"

// State is the lifecycle of a single session.
type State int32

const (
	Idle State = iota
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Key identifies a session.
type Key struct {
	StreamID string
	UserID   uint64
}

type session struct {
	key    Key
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) State() State {
	return State(s.state.Load())
}

// stop moves an active session to Stopping. It never moves a session back.
func (s *session) stop() {
	if s.state.CompareAndSwap(int32(Active), int32(Stopping)) {
		s.cancel()
	}
}

// Tracker owns the presence sessions of a process.
type Tracker struct {
	directory directory.Directory
	interval  time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[Key]*session
}

// NewTracker creates a tracker. A zero interval selects DefaultInterval.
func NewTracker(dir directory.Directory, interval time.Duration, logger *zap.Logger) (*Tracker, error) {
	if err := validator.Validate("presence tracker", dir, logger); err != nil {
		return nil, fmt.Errorf("failed to validate presence tracker deps: %w", err)
	}
	if interval < 0 {
		return nil, fmt.Errorf("presence interval must be positive, got %s", interval)
	}
	if interval == 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Tracker{
		directory: dir,
		interval:  interval,
		logger:    logger.Named("presence"),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[Key]*session),
	}, nil
}

// Interval returns the cadence of presence events.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// BeginSending starts a session for (streamID, userID) that publishes
// template through dst every interval, with ids drawn from ids. It reports
// false and does nothing when the key is already active or the tracker is
// closed.
func (t *Tracker) BeginSending(
	ids sse.IDGenerator,
	template sse.Event,
	dst sse.StreamDeliverer,
	streamID string,
	userID uint64,
) bool {
	key := Key{StreamID: streamID, UserID: userID}

	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	if _, ok := t.sessions[key]; ok {
		t.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(t.ctx)
	s := &session{key: key, cancel: cancel, done: make(chan struct{})}
	s.state.Store(int32(Active))
	t.sessions[key] = s
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run(ctx, s, ids, template, dst)

	t.logger.Debug("presence session started", zap.String("streamId", streamID), zap.Uint64("userId", userID))
	return true
}

// FinishSending cancels the session of (streamID, userID). The worker exits
// at its next suspension point, within one interval. It reports false when
// no session was active.
func (t *Tracker) FinishSending(streamID string, userID uint64) bool {
	key := Key{StreamID: streamID, UserID: userID}

	t.mu.Lock()
	s, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	s.stop()
	t.logger.Debug("presence session stopping", zap.String("streamId", streamID), zap.Uint64("userId", userID))
	return true
}

// Active reports whether (streamID, userID) has a running session.
func (t *Tracker) Active(streamID string, userID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sessions[Key{StreamID: streamID, UserID: userID}]
	return ok
}

// Sessions returns the number of active sessions.
func (t *Tracker) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}

// Close stops every session and waits for the workers to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.cancel()
	sessions := t.sessions
	t.sessions = make(map[Key]*session)
	t.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}

	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context, s *session, ids sse.IDGenerator, template sse.Event, dst sse.StreamDeliverer) {
	defer t.wg.Done()
	defer close(s.done)
	defer s.state.Store(int32(Idle))

	logger := t.logger.With(zap.String("streamId", s.key.StreamID), zap.Uint64("userId", s.key.UserID))

	var user any
	if u := t.resolve(ctx, logger, s.key.UserID); u != nil {
		user = u
	}
	event := template.WithData(UserField, user)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		d := dst.DeliverToStream(ctx, s.key.StreamID, event.WithID(ids.Next()))
		logger.Debug("presence event sent", zap.Int("delivered", d.Delivered))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolve probes the local tier first and falls back to the authoritative
// tier. Failures are logged and yield nil.
func (t *Tracker) resolve(ctx context.Context, logger *zap.Logger, userID uint64) *directory.User {
	u, err := t.directory.Lookup(ctx, userID, true)
	if err == nil && u == nil {
		u, err = t.directory.Lookup(ctx, userID, false)
	}
	if err != nil {
		logger.Error("failed to resolve user for presence", zap.Error(err))
		return nil
	}
	if u == nil {
		logger.Warn("user not found for presence")
	}

	return u
}
