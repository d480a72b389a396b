// Package couchbase provides a typed read path over a Couchbase collection.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Documents reads documents of type T from a single collection.
type Documents[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

// NewDocuments binds T to the named collection of bucket/scope.
func NewDocuments[T any](cluster *gocb.Cluster, bucket *gocb.Bucket, scope, collection string) (*Documents[T], error) {
	if cluster == nil || bucket == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and bucket must not be nil")
	}
	if scope == "" || collection == "" {
		return nil, errors.New("invalid Couchbase parameters: scope and collection must be named")
	}

	return &Documents[T]{
		cluster:    cluster,
		collection: bucket.Scope(scope).Collection(collection),
	}, nil
}

// Get fetches the document stored under key. A missing document is reported
// as an error wrapping gocb.ErrDocumentNotFound.
func (d *Documents[T]) Get(ctx context.Context, key string) (*T, error) {
	res, err := d.collection.Get(key, &gocb.GetOptions{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}

	if s, ok := any(&v).(CasSetter); ok {
		s.SetCas(uint64(res.Cas()))
	}

	return &v, nil
}

// Close closes the cluster connection.
func (d *Documents[T]) Close() error {
	return d.cluster.Close(nil)
}
