// Package cachestore defines the host storage facilities that may hold
// partially downloaded model artifacts.
//
// Facilities:
// - named caches of URL-keyed entries
// - local and session key-value stores, enumerable by index
// - local databases, optionally enumerable
// - background worker registrations
//
// Any facility may be absent on a given host; a nil field in Host means
// the host does not provide it.
package cachestore

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by optional enumeration APIs the host lacks.
var ErrUnsupported = errors.New("operation not supported by host")

// NamedCaches is a set of caches, each holding entries keyed by URL.
type NamedCaches interface {
	// Names lists every cache.
	Names(ctx context.Context) ([]string, error)

	// Keys lists the entry keys in one cache.
	Keys(ctx context.Context, cache string) ([]string, error)

	// DeleteEntry removes one entry. Reports whether it existed.
	DeleteEntry(ctx context.Context, cache, key string) (bool, error)

	// DeleteCache removes a cache and all its entries.
	DeleteCache(ctx context.Context, cache string) (bool, error)
}

// KeyValue is a string store enumerable by index.
type KeyValue interface {
	Len(ctx context.Context) (int, error)

	// Key returns the i-th key; ok is false past the end.
	Key(ctx context.Context, i int) (key string, ok bool, err error)

	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Databases deletes local databases by name.
type Databases interface {
	Delete(ctx context.Context, name string) error
}

// DatabaseLister is implemented by hosts that can enumerate databases.
// It returns ErrUnsupported when enumeration is unavailable.
type DatabaseLister interface {
	List(ctx context.Context) ([]string, error)
}

// WorkerRegistry tracks background worker registrations.
type WorkerRegistry interface {
	Registrations(ctx context.Context) ([]string, error)
	Unregister(ctx context.Context, id string) error
}

// Host bundles the facilities of one storage host.
type Host struct {
	Caches    NamedCaches
	Local     KeyValue
	Session   KeyValue
	Databases Databases
	Workers   WorkerRegistry
}
