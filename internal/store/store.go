// Package store defines the interfaces the presence engine needs from the
// shared key-value store. The store is three things at once: the table of
// presence leases, the cross-process broadcast bus (keyspace-change
// notifications), and the failure detector (lease expiry).
package store

import (
	"context"
	"time"
)

// Notification verbs the engine cares about. The store may emit others
// (e.g. "expire" when a lease is refreshed); consumers ignore them.
const (
	EventSet     = "set"
	EventHSet    = "hset"
	EventDel     = "del"
	EventExpired = "expired"
)

// Notification is a keyspace-change event: something happened to Key.
type Notification struct {
	Key   string
	Event string
}

// Message is a plain pub/sub message, used by the cursor relay.
type Message struct {
	Channel string
	Payload string
}

// Store is the key/value surface. Presence entries are hashes of string
// fields guarded by a TTL lease. All operations are last-write-wins.
type Store interface {
	// SetPresence writes the full field set under key and (re)arms its
	// lease. An existing entry is overwritten.
	SetPresence(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// UpdateFields overwrites individual fields without touching the lease.
	UpdateFields(ctx context.Context, key string, fields map[string]string) error

	// Refresh re-arms the lease without rewriting the value.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the entry. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Keys lists keys matching a glob pattern. The listing is a snapshot:
	// it is not atomic with concurrent writes.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// GetAll reads every field of the entry. A missing key yields an empty
	// map and no error.
	GetAll(ctx context.Context, key string) (map[string]string, error)

	Close() error
}

// Subscriber delivers store notifications. Both channels preserve the
// store's delivery order and are closed when the context is done.
type Subscriber interface {
	// KeyspaceEvents subscribes to keyspace-change notifications for keys
	// matching pattern (a key glob, not a channel name).
	KeyspaceEvents(ctx context.Context, pattern string) (<-chan Notification, error)

	// Messages subscribes to plain pub/sub channels matching pattern.
	Messages(ctx context.Context, pattern string) (<-chan Message, error)

	Close() error
}
