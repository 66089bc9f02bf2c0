package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded snapshot together with its server timestamps.
type Document[T any] struct {
	ID        string
	Data      T
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collection stores values of T in one Firestore collection using the client's struct codec.
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) (*Collection[T], error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	return &Collection[T]{provider: provider, name: name}, nil
}

// Name returns the collection path.
func (c *Collection[T]) Name() string { return c.name }

// Ref resolves the document reference for id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%s: document id is required", c.name)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Create writes value under id. An existing document yields an Error of KindConflict.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError(c.name+".create", err)
	}
	return nil
}

// Get loads and decodes the document stored under id.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.name+".get", err)
	}
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("%s: decode %s: %w", c.name, id, err)
	}
	return Document[T]{
		ID:        snap.Ref.ID,
		Data:      data,
		CreatedAt: snap.CreateTime,
		UpdatedAt: snap.UpdateTime,
	}, nil
}
