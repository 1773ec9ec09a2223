package presence

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/log"
	"github.com/strandhq/longhouse/internal/proto"
	"github.com/strandhq/longhouse/internal/store"
)

// Observer consumes the store's keyspace-change notifications and fans
// presence events out to the sockets this process holds. Every worker
// process runs one, including the process that caused the change.
//
// Notifications are handled strictly in delivery order: a later del for a
// key is never processed before an earlier set. Delivery is at-least-once
// and non-durable; a process that is down when a notification fires misses
// it until the next store read reconciles its view.
type Observer struct {
	sub      store.Subscriber
	store    store.Store
	register *Register
	messager *Messager
	log      *zerolog.Logger
}

func NewObserver(sub store.Subscriber, st store.Store, register *Register, messager *Messager, logger *zerolog.Logger) *Observer {
	return &Observer{
		sub:      sub,
		store:    st,
		register: register,
		messager: messager,
		log:      logger,
	}
}

// Start subscribes to presence keyspace events and to the cursor relay
// channels, then consumes each stream on its own loop until ctx is done.
// Reconnection is the store client's concern, not handled here.
func (o *Observer) Start(ctx context.Context) error {
	events, err := o.sub.KeyspaceEvents(ctx, PresencePattern)
	if err != nil {
		return err
	}
	cursors, err := o.sub.Messages(ctx, CursorPattern)
	if err != nil {
		return err
	}

	go func() {
		for n := range events {
			o.handleNotification(ctx, n)
		}
	}()
	go func() {
		for msg := range cursors {
			o.handleCursor(msg)
		}
	}()
	return nil
}

// handleNotification drives the per-key presence state machine:
// set/hset moves a key toward present, del and expired toward absent.
func (o *Observer) handleNotification(ctx context.Context, n store.Notification) {
	id, spaceID := ParsePresenceKey(n.Key)
	if id == "" || spaceID == "" {
		return
	}

	switch n.Event {
	case store.EventSet, store.EventHSet:
		record, err := o.store.GetAll(ctx, n.Key)
		if err != nil {
			o.log.Warn().Err(err).Str("key", n.Key).Msg("read presence record for fan-out")
		}
		if len(record) == 0 {
			// The key raced away before the read; what the key encodes is
			// all that is left of the subject.
			record = subjectRecord(id, spaceID)
		}
		o.PublishEvent(proto.EventRemoteJoin, spaceID, record, "")
	case store.EventExpired:
		o.expireClient(ctx, o.register.GetClient(id))
		o.PublishEvent(proto.EventRemoteExpire, spaceID, subjectRecord(id, spaceID), id)
	case store.EventDel:
		o.PublishEvent(proto.EventRemoteLeave, spaceID, subjectRecord(id, spaceID), "")
	}
}

// expireClient handles the local obligation of a fired lease: if this
// process holds the expired client's socket, tell it, close it, and drop
// it from the registry.
func (o *Observer) expireClient(ctx context.Context, c *Client) {
	if c == nil {
		return
	}

	clog := log.ForClient(o.log, c.ID, c.SpaceID, c.RequestID)
	clog.Info().Msg("presence lease expired, disconnecting client")

	o.messager.Send(c, proto.Event{Event: proto.EventExpired})
	_ = c.Socket.Close()
	if err := o.register.DeregisterClient(ctx, c); err != nil {
		clog.Warn().Err(err).Msg("deregister expired client")
	}
}

// PublishEvent sends an event naming subject to every locally-held client
// in the space. excludeID is an explicit policy knob: when non-empty, the
// client with that id is skipped; the primitive itself imposes no other
// exclusion.
func (o *Observer) PublishEvent(event, spaceID string, subject map[string]string, excludeID string) {
	for _, c := range o.register.ClientsInSpace(spaceID) {
		if excludeID != "" && c.ID == excludeID {
			continue
		}
		o.messager.Send(c, proto.Event{Event: event, Client: subject})
	}
}

// handleCursor relays an externally published cursor update to the space's
// locally-held clients, excluding the originator. Channel names look like
// cursor|spaces|{spaceID}; payloads are key=value pairs joined by the key
// splitter and must carry a clientId.
func (o *Observer) handleCursor(msg store.Message) {
	parts := strings.Split(msg.Channel, KeySplitter)
	if len(parts) != 3 {
		return
	}
	spaceID := parts[2]

	cursor := make(map[string]string)
	for _, pair := range strings.Split(msg.Payload, KeySplitter) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cursor[k] = v
	}

	for _, c := range o.register.ClientsInSpace(spaceID) {
		if c.ID == cursor["clientId"] {
			continue
		}
		o.messager.Send(c, cursor)
	}
}

func subjectRecord(id, spaceID string) map[string]string {
	return map[string]string{fieldID: id, fieldSpaceID: spaceID}
}
