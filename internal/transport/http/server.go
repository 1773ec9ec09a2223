package http

import (
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/presence"
)

// NewHandler builds the HTTP routing surface: a health probe and the
// WebSocket endpoint.
func NewHandler(register *presence.Register, messager *presence.Messager, pingInterval time.Duration, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/ws", NewWSHandler(register, messager, pingInterval, logger))
	return mux
}

func healthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	_, _ = fmt.Fprint(w, "ok")
}
