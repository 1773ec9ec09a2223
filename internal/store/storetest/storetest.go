// Package storetest provides an in-memory store.Store and store.Subscriber
// for tests: hash entries with real TTL timers, keyspace-change
// notifications fanned out to pattern subscribers in emit order, and plain
// pub/sub publishing for relay tests.
package storetest

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/strandhq/longhouse/internal/store"
)

const subscriberBuffer = 256

type entry struct {
	fields    map[string]string
	timer     *time.Timer
	expiresAt time.Time
}

type notifySub struct {
	ctx     context.Context
	pattern string
	ch      chan store.Notification
}

type messageSub struct {
	ctx     context.Context
	pattern string
	ch      chan store.Message
}

// MemStore is a process-local stand-in for a Redis server. Safe for
// concurrent use.
type MemStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	notify   []*notifySub
	messages []*messageSub
	failure  error
}

var (
	_ store.Store      = (*MemStore)(nil)
	_ store.Subscriber = (*MemStore)(nil)
)

func New() *MemStore {
	return &MemStore{entries: make(map[string]*entry)}
}

// SetFailure makes every store operation return err until cleared with nil.
func (m *MemStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemStore) SetPresence(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	e, ok := m.entries[key]
	if !ok {
		e = &entry{fields: make(map[string]string)}
		m.entries[key] = e
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	m.armLocked(key, e, ttl)
	m.emitLocked(store.Notification{Key: key, Event: store.EventHSet})
	return nil
}

func (m *MemStore) UpdateFields(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	e, ok := m.entries[key]
	if !ok {
		e = &entry{fields: make(map[string]string)}
		m.entries[key] = e
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	m.emitLocked(store.Notification{Key: key, Event: store.EventHSet})
	return nil
}

func (m *MemStore) Refresh(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.armLocked(key, e, ttl)
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(m.entries, key)
	m.emitLocked(store.Notification{Key: key, Event: store.EventDel})
	return nil
}

func (m *MemStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}

	var keys []string
	for key := range m.entries {
		if matches(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemStore) GetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}

	out := make(map[string]string)
	if e, ok := m.entries[key]; ok {
		for k, v := range e.fields {
			out[k] = v
		}
	}
	return out, nil
}

// TTL reports the remaining lease time for key, or zero if absent.
func (m *MemStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	return time.Until(e.expiresAt)
}

// Expire fires the lease for key immediately, as if its TTL had elapsed.
func (m *MemStore) Expire(key string) {
	m.expire(key)
}

func (m *MemStore) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(m.entries, key)
	m.emitLocked(store.Notification{Key: key, Event: store.EventExpired})
}

func (m *MemStore) KeyspaceEvents(ctx context.Context, pattern string) (<-chan store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &notifySub{ctx: ctx, pattern: pattern, ch: make(chan store.Notification, subscriberBuffer)}
	m.notify = append(m.notify, sub)
	context.AfterFunc(ctx, func() { m.dropNotify(sub) })
	return sub.ch, nil
}

func (m *MemStore) Messages(ctx context.Context, pattern string) (<-chan store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &messageSub{ctx: ctx, pattern: pattern, ch: make(chan store.Message, subscriberBuffer)}
	m.messages = append(m.messages, sub)
	context.AfterFunc(ctx, func() { m.dropMessages(sub) })
	return sub.ch, nil
}

// Publish delivers a plain pub/sub message to matching subscribers.
func (m *MemStore) Publish(channel, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.messages {
		if sub.ctx.Err() != nil || !matches(sub.pattern, channel) {
			continue
		}
		select {
		case sub.ch <- store.Message{Channel: channel, Payload: payload}:
		default:
		}
	}
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	m.entries = make(map[string]*entry)
	return nil
}

func (m *MemStore) armLocked(key string, e *entry, ttl time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.expiresAt = time.Now().Add(ttl)
	e.timer = time.AfterFunc(ttl, func() { m.expire(key) })
}

func (m *MemStore) emitLocked(n store.Notification) {
	for _, sub := range m.notify {
		if sub.ctx.Err() != nil || !matches(sub.pattern, n.Key) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
}

func (m *MemStore) dropNotify(target *notifySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.notify {
		if sub == target {
			m.notify = append(m.notify[:i], m.notify[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (m *MemStore) dropMessages(target *messageSub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.messages {
		if sub == target {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// matches evaluates a redis-style glob. Keys contain no path separators, so
// path.Match gives the right semantics for the patterns the engine uses.
func matches(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
