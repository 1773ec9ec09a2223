package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/presence"
	"github.com/strandhq/longhouse/internal/proto"
	"github.com/strandhq/longhouse/internal/telemetry"
)

const writeTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to a presence
// session. Frames of one connection are read and dispatched sequentially;
// fan-out writes from the observer interleave on the socket.
type WSHandler struct {
	register     *presence.Register
	messager     *presence.Messager
	pingInterval time.Duration
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(register *presence.Register, messager *presence.Messager, pingInterval time.Duration, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		register:     register,
		messager:     messager,
		pingInterval: pingInterval,
		log:          logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		telemetry.CaptureRequest(r, err)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	sock := newWSSocket(conn)
	session := presence.NewSession(h.register, h.messager, h.log, sock, requestID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, sock)

	err = h.readLoop(ctx, conn, session)

	// The socket-close event, whatever ended the read loop. The session
	// ignores it when leave already closed the connection.
	session.HandleClose(context.WithoutCancel(ctx))
	cancel()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Debug().Err(err).Str("request_id", requestID).Msg("ws connection ended")
		}
	}
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *presence.Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		session.HandleFrame(ctx, data)
	}
}

// pingLoop keeps intermediaries from idling the connection out. Distinct
// from the presence lease: clients renew that themselves with ping frames.
func (h *WSHandler) pingLoop(ctx context.Context, sock presence.Socket) {
	if h.pingInterval <= 0 {
		return
	}

	frame, err := json.Marshal(proto.Ping{Ping: true})
	if err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.Send(frame); err != nil {
				return
			}
		}
	}
}

// wsSocket adapts a websocket connection to the presence.Socket interface.
type wsSocket struct {
	conn *websocket.Conn
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}
