package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/log"
	"github.com/strandhq/longhouse/internal/proto"
	"github.com/strandhq/longhouse/internal/store"
)

// Register is the per-process client registry and the only writer of the
// shared store's key/value API. The local map is a cache of the sockets
// this process holds; the store's leases are ground truth.
type Register struct {
	store    store.Store
	messager *Messager
	log      *zerolog.Logger
	ttl      time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegister builds a Register with the given presence lease duration and
// installs itself as the messager's send-failure deregistration hook.
func NewRegister(st store.Store, messager *Messager, logger *zerolog.Logger, ttl time.Duration) *Register {
	r := &Register{
		store:    st,
		messager: messager,
		log:      logger,
		ttl:      ttl,
		clients:  make(map[string]*Client),
	}
	messager.OnSendFailure(func(c *Client) {
		if err := r.DeregisterClient(context.Background(), c); err != nil {
			clog := log.ForClient(logger, c.ID, c.SpaceID, c.RequestID)
			clog.Warn().Err(err).Msg("deregister after send failure")
		}
	})
	return r
}

// RegisterClient creates a client from a join request, persists it under
// its presence key with a fresh lease, snapshots the space's members, adds
// the client to the local registry, and sends it the initial member list.
// Any store failure aborts registration before the local insert; the
// caller must close the socket in that case.
func (r *Register) RegisterClient(ctx context.Context, msg proto.Inbound, requestID string, sock Socket) (*Client, error) {
	c, err := NewClient(msg, requestID, sock)
	if err != nil {
		return nil, err
	}

	key := c.PresenceKey()
	if err := r.store.SetPresence(ctx, key, c.RedisHash(), r.ttl); err != nil {
		return nil, storeError(err)
	}

	members, err := r.snapshotSpace(ctx, c.SpaceID)
	if err != nil {
		return nil, storeError(err)
	}

	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	r.messager.Send(c, proto.JoinAck{ID: c.ID, Clients: members})
	return c, nil
}

// snapshotSpace lists the space's presence keys and reads each record. The
// listing is not atomic with concurrent joins and leaves; keys that vanish
// between the listing and the read are skipped.
func (r *Register) snapshotSpace(ctx context.Context, spaceID string) ([]map[string]string, error) {
	keys, err := r.store.Keys(ctx, SpaceKeyPattern(spaceID))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	members := make([]map[string]string, 0, len(keys))
	for _, key := range keys {
		record, err := r.store.GetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		members = append(members, record)
	}
	return members, nil
}

// UpdateMeta overwrites the stored hash's meta fields for an existing
// client. The lease and the local registry entry are untouched; the
// keyspace-change event generated by the write is the only notification.
func (r *Register) UpdateMeta(ctx context.Context, c *Client, meta map[string]string) error {
	fields := make(map[string]string, len(meta))
	for k, v := range meta {
		if reservedField(k) {
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil
	}

	if err := r.store.UpdateFields(ctx, c.PresenceKey(), fields); err != nil {
		return storeError(err)
	}
	return nil
}

// RenewClient re-arms the client's lease without rewriting its record.
// Safe to call repeatedly; the last refresh wins.
func (r *Register) RenewClient(ctx context.Context, c *Client) error {
	if err := r.store.Refresh(ctx, c.PresenceKey(), r.ttl); err != nil {
		return storeError(err)
	}
	return nil
}

// DeregisterClient deletes the client's presence key and removes it from
// the local registry. Calling it for an already-deregistered client is a
// no-op. The local entry is removed even when the store delete fails; the
// lease's TTL reconciles the store eventually.
func (r *Register) DeregisterClient(ctx context.Context, c *Client) error {
	r.mu.Lock()
	delete(r.clients, c.ID)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, c.PresenceKey()); err != nil {
		return storeError(err)
	}
	return nil
}

// GetClient looks up a locally-held client by id. Never touches the store.
func (r *Register) GetClient(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

// ClientsInSpace returns the clients in a space whose sockets this process
// holds. Global membership comes from the join snapshot plus observer
// events, not from this call.
func (r *Register) ClientsInSpace(spaceID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for _, c := range r.clients {
		if c.SpaceID == spaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// RemoveAllClients clears the local registry without touching the store.
func (r *Register) RemoveAllClients() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*Client)
}
