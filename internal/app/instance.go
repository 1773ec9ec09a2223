package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/config"
	"github.com/strandhq/longhouse/internal/presence"
	"github.com/strandhq/longhouse/internal/store"
	transporthttp "github.com/strandhq/longhouse/internal/transport/http"
)

// Instance is one self-contained server: registry, messager, observer and
// HTTP surface. Instances share nothing but the store.
type Instance struct {
	Register *presence.Register
	Messager *presence.Messager
	Observer *presence.Observer
	Handler  http.Handler
}

// NewInstance wires an instance against the given store and subscriber.
func NewInstance(cfg config.Config, logger *zerolog.Logger, st store.Store, sub store.Subscriber) *Instance {
	messager := presence.NewMessager(logger, cfg.PrettyJSON)
	register := presence.NewRegister(st, messager, logger, cfg.PresenceTTL)
	observer := presence.NewObserver(sub, st, register, messager, logger)
	handler := transporthttp.NewHandler(register, messager, cfg.PingInterval, logger)

	return &Instance{
		Register: register,
		Messager: messager,
		Observer: observer,
		Handler:  handler,
	}
}

// Start begins consuming store notifications.
func (i *Instance) Start(ctx context.Context) error {
	return i.Observer.Start(ctx)
}
