package blobstore

import (
	"context"

	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// ObjectStoreFactory builds the object-store client for a configuration.
type ObjectStoreFactory interface {
	Create(ctx context.Context, cfg *Configuration) (objectstore.ObjectStore, error)
}

// ObjectStoreFactoryFunc adapts a function to ObjectStoreFactory.
type ObjectStoreFactoryFunc func(ctx context.Context, cfg *Configuration) (objectstore.ObjectStore, error)

func (f ObjectStoreFactoryFunc) Create(ctx context.Context, cfg *Configuration) (objectstore.ObjectStore, error) {
	return f(ctx, cfg)
}

// StaticObjectStore returns a factory that always hands out store.
func StaticObjectStore(store objectstore.ObjectStore) ObjectStoreFactory {
	return ObjectStoreFactoryFunc(func(context.Context, *Configuration) (objectstore.ObjectStore, error) {
		return store, nil
	})
}
