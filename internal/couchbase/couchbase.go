// Package couchbase provides a small typed layer over the Couchbase Go SDK
// used by the database persister: document inserts and reads for a single
// collection, N1QL queries decoded into the document type, and transactions.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Store is a typed view over one Couchbase collection holding documents of type T.
type Store[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

// NewStore creates a Store for the given collection. Both arguments are required.
func NewStore[T any](cluster *gocb.Cluster, collection *gocb.Collection) (*Store[T], error) {
	if cluster == nil || collection == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and collection must not be nil")
	}

	return &Store[T]{
		cluster:    cluster,
		collection: collection,
	}, nil
}

// Insert creates a new document. It fails with gocb.ErrDocumentExists if the key is taken.
func (s *Store[T]) Insert(ctx context.Context, key string, value T, opts *gocb.InsertOptions) error {
	if opts == nil {
		opts = new(gocb.InsertOptions)
	}
	opts.Context = ctx

	if _, err := s.collection.Insert(key, value, opts); err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Get reads a document by key and decodes it into T. Documents implementing
// CasSetter get the CAS value of the read.
func (s *Store[T]) Get(ctx context.Context, key string, opts *gocb.GetOptions) (*T, error) {
	if opts == nil {
		opts = new(gocb.GetOptions)
	}
	opts.Context = ctx

	res, err := s.collection.Get(key, opts)
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

// Query runs a N1QL statement and decodes every row into T.
func (s *Store[T]) Query(ctx context.Context, statement string, opts *gocb.QueryOptions) ([]T, error) {
	if opts == nil {
		opts = new(gocb.QueryOptions)
	}
	opts.Context = ctx

	result, err := s.cluster.Query(statement, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer result.Close()

	var items []T
	for result.Next() {
		var item T
		if err := result.Row(&item); err != nil {
			return nil, fmt.Errorf("failed to parse query row: %w", err)
		}
		items = append(items, item)
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query results: %w", err)
	}

	return items, nil
}

// Collection returns the underlying collection.
func (s *Store[T]) Collection() *gocb.Collection {
	return s.collection
}
