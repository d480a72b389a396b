// Package directory resolves chat-platform users by id. Lookups are two-tier:
// a local cache answers preferLocal probes and an authoritative store answers
// the rest.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"ssebot/internal/couchbase"
	"ssebot/internal/validator"
)

// ErrUserNotFound is returned by a Store that has no record of a user.
var ErrUserNotFound = errors.New("user not found")

// User is the public profile of a chat-platform user.
type User struct {
	ID          uint64 `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"emailAddress,omitempty"`

	couchbase.Cas `json:"-"`
}

// Directory resolves users. A nil user with a nil error means the tier had
// no record of userID.
type Directory interface {
	Lookup(ctx context.Context, userID uint64, preferLocal bool) (*User, error)
}

// Store is the authoritative source of users.
type Store interface {
	Get(ctx context.Context, userID uint64) (*User, error)
}

// CachedDirectory answers preferLocal lookups from an in-process TTL cache
// and fills it from the Store on authoritative lookups.
type CachedDirectory struct {
	cache  *ttlcache.Cache[uint64, User]
	store  Store
	logger *zap.Logger
}

// NewCachedDirectory creates a directory caching users for ttl.
func NewCachedDirectory(store Store, ttl time.Duration, logger *zap.Logger) (*CachedDirectory, error) {
	if err := validator.Validate("directory", store, ttl, logger); err != nil {
		return nil, fmt.Errorf("failed to validate directory deps: %w", err)
	}

	cache := ttlcache.New[uint64, User](
		ttlcache.WithTTL[uint64, User](ttl),
		ttlcache.WithDisableTouchOnHit[uint64, User](),
	)

	return &CachedDirectory{
		cache:  cache,
		store:  store,
		logger: logger.Named("directory"),
	}, nil
}

// Start runs the cache expiration loop until Stop is called. It blocks.
func (d *CachedDirectory) Start() {
	d.cache.Start()
}

// Stop ends the expiration loop.
func (d *CachedDirectory) Stop() {
	d.cache.Stop()
}

// Lookup implements Directory.
func (d *CachedDirectory) Lookup(ctx context.Context, userID uint64, preferLocal bool) (*User, error) {
	if preferLocal {
		item := d.cache.Get(userID)
		if item == nil {
			return nil, nil
		}
		u := item.Value()
		return &u, nil
	}

	u, err := d.store.Get(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		d.logger.Debug("user not found", zap.Uint64("userId", userID))
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to look up user %d: %w", userID, err)
	}

	// The same revision only extends the cached entry.
	if item := d.cache.Get(userID); item != nil && u.GetCas() != 0 && item.Value().GetCas() == u.GetCas() {
		d.cache.Touch(userID)
		return u, nil
	}

	d.cache.Set(userID, *u, ttlcache.DefaultTTL)
	d.logger.Debug("cached user revision", zap.Uint64("userId", userID), zap.Uint64("cas", u.GetCas()))

	return u, nil
}

// Revision returns the CAS of the cached record of userID, or 0.
func (d *CachedDirectory) Revision(userID uint64) uint64 {
	item := d.cache.Get(userID)
	if item == nil {
		return 0
	}
	return item.Value().GetCas()
}

// Cached reports whether userID is currently held by the local tier.
func (d *CachedDirectory) Cached(userID uint64) bool {
	return d.cache.Has(userID)
}
