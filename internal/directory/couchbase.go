package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"

	"ssebot/internal/couchbase"
)

const usersCollection = "users"

// UserKey is the document key of a user.
func UserKey(userID uint64) string {
	return fmt.Sprintf("user::%d", userID)
}

// CouchbaseStore reads users from the "users" collection.
type CouchbaseStore struct {
	users *couchbase.Documents[User]
}

// NewCouchbaseStore binds the store to bucket/scope.
func NewCouchbaseStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*CouchbaseStore, error) {
	users, err := couchbase.NewDocuments[User](cluster, bucket, scope, usersCollection)
	if err != nil {
		return nil, err
	}

	return &CouchbaseStore{users: users}, nil
}

// Get implements Store.
func (s *CouchbaseStore) Get(ctx context.Context, userID uint64) (*User, error) {
	u, err := s.users.Get(ctx, UserKey(userID))
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return nil, ErrUserNotFound
	default:
		return nil, err
	}

	if u.ID == 0 {
		u.ID = userID
	}

	return u, nil
}

// Close closes the underlying cluster connection.
func (s *CouchbaseStore) Close() error {
	return s.users.Close()
}
