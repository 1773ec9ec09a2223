package presence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/log"
	"github.com/strandhq/longhouse/internal/proto"
	"github.com/strandhq/longhouse/internal/telemetry"
)

// Session is the message-action state machine for one connection:
// Connected (no client yet) -> Joined (client registered) -> Closed. The
// transport feeds it whole text frames and the socket-close event; frames
// from one connection are never processed concurrently.
type Session struct {
	register  *Register
	messager  *Messager
	base      *zerolog.Logger
	log       zerolog.Logger
	sock      Socket
	requestID string

	mu     sync.Mutex
	client *Client
	closed bool
}

func NewSession(register *Register, messager *Messager, logger *zerolog.Logger, sock Socket, requestID string) *Session {
	return &Session{
		register:  register,
		messager:  messager,
		base:      logger,
		log:       logger.With().Str("request_id", requestID).Logger(),
		sock:      sock,
		requestID: requestID,
	}
}

// Joined reports whether the session holds a registered client.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Client returns the session's registered client, or nil while Connected.
func (s *Session) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// HandleFrame processes one inbound text frame. Protocol errors are
// reported to the connection and are terminal only for the operation;
// a store failure during join is terminal for the connection.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	var msg proto.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("unparsable message received")
		telemetry.Capture(err, map[string]string{"request_id": s.requestID})
		s.reject(DetailUnparsableMessage)
		return
	}

	switch msg.Action {
	case proto.ActionJoin:
		s.handleJoin(ctx, msg)
	case proto.ActionUpdate:
		s.handleUpdate(ctx, msg)
	case proto.ActionPing:
		s.handlePing(ctx)
	case proto.ActionLeave:
		s.handleLeave(ctx)
	default:
		s.log.Warn().Str("action", msg.Action).Msg("unrecognized action")
		s.reject(DetailUnrecognizedAction)
	}
}

// HandleClose reacts to the transport's socket-close event, the graceful
// counterpart to lease expiry. Does not double-fire after leave.
func (s *Session) HandleClose(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if s.client == nil {
		return
	}

	s.log.Info().Msg("client closed socket connection")

	if err := s.register.DeregisterClient(ctx, s.client); err != nil {
		s.log.Warn().Err(err).Msg("deregister on close")
	}
	s.client = nil
}

func (s *Session) handleJoin(ctx context.Context, msg proto.Inbound) {
	if s.client != nil {
		s.log.Warn().Msg("join while already joined")
		s.reject(DetailAlreadyJoined)
		return
	}
	if msg.SpaceID == "" {
		s.reject(DetailMissingSpace)
		return
	}
	if uuid.Validate(msg.SpaceID) != nil {
		s.log.Warn().Str("space_id", msg.SpaceID).Msg("non-UUID space supplied")
		s.reject(DetailInvalidSpace)
		return
	}
	if msg.Identity == "" {
		s.reject(DetailMissingIdentity)
		return
	}

	c, err := s.register.RegisterClient(ctx, msg, s.requestID, s.sock)
	if err != nil {
		s.log.Error().Err(err).Msg("could not register new client")
		telemetry.Capture(err, map[string]string{"request_id": s.requestID, "space_id": msg.SpaceID})
		s.reject(DetailStoreUnavailable)
		s.closed = true
		_ = s.sock.Close()
		return
	}

	s.client = c
	s.log = log.ForClient(s.base, c.ID, c.SpaceID, s.requestID)
	s.log.Info().Str("identity", c.Identity).Msg("new client joined")
}

func (s *Session) handleUpdate(ctx context.Context, msg proto.Inbound) {
	if s.client == nil {
		s.reject(DetailNotJoined)
		return
	}

	if err := s.register.UpdateMeta(ctx, s.client, msg.Meta); err != nil {
		// A lost update is reconciled by the next one; only join-time store
		// failures are terminal.
		s.log.Warn().Err(err).Msg("update meta")
		return
	}
	if err := s.register.RenewClient(ctx, s.client); err != nil {
		s.log.Warn().Err(err).Msg("renew after update")
	}
}

func (s *Session) handlePing(ctx context.Context) {
	if s.client == nil {
		s.reject(DetailNotJoined)
		return
	}

	// A failed renewal is logged only; the lease expires naturally if the
	// failures persist.
	if err := s.register.RenewClient(ctx, s.client); err != nil {
		s.log.Warn().Err(err).Msg("renew presence")
	}
}

func (s *Session) handleLeave(ctx context.Context) {
	if s.client == nil {
		s.reject(DetailNotJoined)
		return
	}

	c := s.client
	if err := s.register.DeregisterClient(ctx, c); err != nil {
		s.log.Warn().Err(err).Msg("deregister on leave")
	}

	s.messager.Send(c, proto.LeaveAck{Action: proto.ActionLeave})
	s.client = nil
	s.closed = true
	_ = s.sock.Close()

	s.log.Info().Msg("client left space")
}

// reject reports a failed operation to the connection. Registered clients
// get the messager's failure escalation; bare sockets a best-effort write.
func (s *Session) reject(detail string) {
	frame := proto.NewErrors(detail)
	if s.client != nil {
		s.messager.Send(s.client, frame)
		return
	}
	if err := s.messager.SendSocket(s.sock, frame); err != nil {
		s.log.Warn().Err(err).Msg("write rejection to socket")
	}
}
