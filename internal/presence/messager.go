package presence

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/log"
)

// Messager serializes outbound frames and writes them to client sockets.
// A failed write means the socket is dead: the error is logged, the socket
// closed, and the client deregistered through the failure callback. Callers
// must not assume Send is free of registry side effects.
type Messager struct {
	log           *zerolog.Logger
	pretty        bool
	onSendFailure func(*Client)
}

// NewMessager builds a Messager. pretty toggles indented JSON output.
func NewMessager(logger *zerolog.Logger, pretty bool) *Messager {
	return &Messager{log: logger, pretty: pretty}
}

// OnSendFailure installs the deregistration hook invoked when a write to a
// client's socket fails.
func (m *Messager) OnSendFailure(fn func(*Client)) {
	m.onSendFailure = fn
}

// Send writes message to the client's socket as one text frame.
func (m *Messager) Send(c *Client, message any) {
	data, err := m.marshal(message)
	if err != nil {
		clog := log.ForClient(m.log, c.ID, c.SpaceID, c.RequestID)
		clog.Error().Err(err).Msg("marshal outbound message")
		return
	}

	if err := c.Socket.Send(data); err != nil {
		clog := log.ForClient(m.log, c.ID, c.SpaceID, c.RequestID)
		clog.Warn().Err(err).Msg("socket write failed, dropping client")
		_ = c.Socket.Close()
		if m.onSendFailure != nil {
			m.onSendFailure(c)
		}
	}
}

// Error sends a standard {"error": ...} envelope to the client.
func (m *Messager) Error(c *Client, detail string) {
	m.Send(c, errorEnvelope{Error: detail})
}

// SendSocket writes message to a bare socket, for connections that have no
// registered client yet. No deregistration happens on failure.
func (m *Messager) SendSocket(sock Socket, message any) error {
	data, err := m.marshal(message)
	if err != nil {
		return err
	}
	return sock.Send(data)
}

func (m *Messager) marshal(message any) ([]byte, error) {
	if m.pretty {
		return json.MarshalIndent(message, "", "  ")
	}
	return json.Marshal(message)
}

type errorEnvelope struct {
	Error string `json:"error"`
}
