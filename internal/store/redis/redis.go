// Package redis implements the store interfaces on a Redis server using
// go-redis. Presence entries are hashes written with HSET and leased with
// PEXPIRE; change notifications arrive over keyspace-event channels.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/store"
)

// keyspaceChannelPrefix matches events from any database.
const keyspaceChannelPrefix = "__keyspace@*__:"

// requiredNotifyFlags are the notify-keyspace-events classes the engine
// needs: generic commands (del/expire), hash commands, expired events, and
// keyspace-channel publication.
const requiredNotifyFlags = "ghxK"

// Client talks to a single Redis server and implements both store.Store
// and store.Subscriber.
type Client struct {
	rdb *redis.Client
	log *zerolog.Logger
}

var (
	_ store.Store      = (*Client)(nil)
	_ store.Subscriber = (*Client)(nil)
)

// New connects to the Redis server at rawURL (redis://[:password@]host:port[/db]).
func New(rawURL string, logger *zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{rdb: redis.NewClient(opt), log: logger}, nil
}

// ConfigureKeyspaceEvents makes sure notify-keyspace-events carries the
// flags the observer depends on, extending the server's current setting
// when some are missing.
func (c *Client) ConfigureKeyspaceEvents(ctx context.Context) error {
	conf, err := c.rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		return fmt.Errorf("read notify-keyspace-events: %w", err)
	}

	current := conf["notify-keyspace-events"]
	missing := missingNotifyFlags(current)
	if missing == "" {
		return nil
	}

	updated := current + missing
	if err := c.rdb.ConfigSet(ctx, "notify-keyspace-events", updated).Err(); err != nil {
		return fmt.Errorf("set notify-keyspace-events: %w", err)
	}

	c.log.Info().Str("value", updated).Msg("configured keyspace event notifications")
	return nil
}

func missingNotifyFlags(current string) string {
	// "A" implies every class flag except "K"/"E".
	hasAll := strings.Contains(current, "A")

	var missing strings.Builder
	for _, flag := range requiredNotifyFlags {
		if strings.ContainsRune(current, flag) {
			continue
		}
		if hasAll && flag != 'K' {
			continue
		}
		missing.WriteRune(flag)
	}
	return missing.String()
}

func (c *Client) SetPresence(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set presence %q: %w", key, err)
	}
	return nil
}

func (c *Client) UpdateFields(ctx context.Context, key string, fields map[string]string) error {
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("update fields %q: %w", key, err)
	}
	return nil
}

func (c *Client) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("refresh lease %q: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", pattern, err)
	}
	return keys, nil
}

func (c *Client) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return fields, nil
}

// KeyspaceEvents subscribes to keyspace-change notifications for keys
// matching pattern. Notifications are forwarded in delivery order on a
// channel closed when ctx is done.
func (c *Client) KeyspaceEvents(ctx context.Context, pattern string) (<-chan store.Notification, error) {
	sub := c.rdb.PSubscribe(ctx, keyspaceChannelPrefix+pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe keyspace events %q: %w", pattern, err)
	}

	out := make(chan store.Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				n := store.Notification{
					Key:   KeyFromChannel(msg.Channel),
					Event: msg.Payload,
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Messages subscribes to plain pub/sub channels matching pattern.
func (c *Client) Messages(ctx context.Context, pattern string) (<-chan store.Message, error) {
	sub := c.rdb.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	out := make(chan store.Message)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				m := store.Message{Channel: msg.Channel, Payload: msg.Payload}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// KeyFromChannel strips the keyspace-event prefix from a notification
// channel name, leaving the subject key. Channel names look like
// "__keyspace@0__:longhouse|spaces|s|c"; the key is everything after the
// first colon.
func KeyFromChannel(channel string) string {
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		return channel[i+1:]
	}
	return channel
}
