package presence

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strandhq/longhouse/internal/proto"
)

// KeySplitter separates the segments of a presence key. Identity and meta
// live in the stored hash, not the key, so a splitter inside an identity
// can never corrupt decoding.
const KeySplitter = "|"

// namespace is the first segment of every key and channel this engine owns.
const namespace = "longhouse"

// PresencePattern matches every presence key in the store; the observer
// subscribes to keyspace events with it.
const PresencePattern = namespace + KeySplitter + "spaces" + KeySplitter + "*"

// CursorPattern matches the pub/sub channels the cursor relay listens on.
const CursorPattern = "cursor" + KeySplitter + "spaces" + KeySplitter + "*"

// Hash field names reserved for the client record itself. Meta entries
// shadowing one of these are dropped at serialization time.
const (
	fieldID       = "id"
	fieldIdentity = "identity"
	fieldSpaceID  = "space_id"
	fieldJoinedAt = "joined_at"
)

const joinedAtFormat = time.RFC3339Nano

// Socket is the exclusively-owned handle to a client's live connection.
// Send writes one whole text frame; both methods must tolerate being
// called after the peer is gone.
type Socket interface {
	Send(data []byte) error
	Close() error
}

// Client is a present identity as seen by this process. Immutable after
// creation: meta updates are expressed by overwriting the stored hash, not
// by mutating the object.
type Client struct {
	ID        string
	Identity  string
	SpaceID   string
	RequestID string
	Meta      map[string]string
	JoinedAt  time.Time
	Socket    Socket
}

// NewClient builds a Client from a join request. The space and identity
// are required; the id is generated when the request omits one. The store
// is never touched here.
func NewClient(msg proto.Inbound, requestID string, sock Socket) (*Client, error) {
	if msg.SpaceID == "" {
		return nil, errMissingSpace
	}
	if msg.Identity == "" {
		return nil, errMissingIdentity
	}

	id := msg.ClientID
	if id == "" {
		id = uuid.NewString()
	}

	meta := make(map[string]string, len(msg.Meta))
	for k, v := range msg.Meta {
		meta[k] = v
	}

	return &Client{
		ID:        id,
		Identity:  msg.Identity,
		SpaceID:   msg.SpaceID,
		RequestID: requestID,
		Meta:      meta,
		JoinedAt:  time.Now(),
		Socket:    sock,
	}, nil
}

// PresenceKey returns the store key for this client:
// longhouse|spaces|{spaceID}|{id}.
func (c *Client) PresenceKey() string {
	return strings.Join([]string{namespace, "spaces", c.SpaceID, c.ID}, KeySplitter)
}

// SpaceKeyPattern returns the glob matching every presence key in a space.
func SpaceKeyPattern(spaceID string) string {
	return strings.Join([]string{namespace, "spaces", spaceID, "*"}, KeySplitter)
}

// ParsePresenceKey recovers the space and client ids from a presence key.
// Malformed input yields empty strings; callers must check before trusting
// the result.
func ParsePresenceKey(key string) (id, spaceID string) {
	parts := strings.Split(key, KeySplitter)
	if len(parts) != 4 || parts[0] != namespace || parts[1] != "spaces" {
		return "", ""
	}
	return parts[3], parts[2]
}

// RedisHash projects the client into the fields persisted to the store.
// The socket is never serialized.
func (c *Client) RedisHash() map[string]string {
	hash := map[string]string{
		fieldID:       c.ID,
		fieldIdentity: c.Identity,
		fieldSpaceID:  c.SpaceID,
		fieldJoinedAt: c.JoinedAt.Format(joinedAtFormat),
	}
	for k, v := range c.Meta {
		if reservedField(k) {
			continue
		}
		hash[k] = v
	}
	return hash
}

func reservedField(name string) bool {
	switch name {
	case fieldID, fieldIdentity, fieldSpaceID, fieldJoinedAt:
		return true
	}
	return false
}
