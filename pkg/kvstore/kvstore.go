// Package kvstore defines the generic async key/value interface that
// SessionStore and Transport persist their state through (§6).
package kvstore

import "context"

// Store is a generic, string-keyed key/value store. Get reports whether the
// key was present via its second return value.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Keys returns every key with the given prefix. Used by SessionStore.list()
	// (§4.3) to enumerate sessions without a dedicated index.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any underlying connection or resource.
	Close() error
}
