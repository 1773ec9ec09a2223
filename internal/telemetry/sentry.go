// Package telemetry reports exceptions to Sentry when a DSN is configured
// and degrades to a no-op otherwise.
package telemetry

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init configures the global Sentry client. An empty DSN disables
// reporting entirely; every Capture call is then a no-op.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
}

// Capture reports err with string tags attached.
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureRequest reports err with metadata from the originating HTTP
// request (the WebSocket upgrade request).
func CaptureRequest(req *http.Request, err error) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		if id := req.Header.Get("X-Request-ID"); id != "" {
			scope.SetTag("request_id", id)
		}
		sentry.CaptureException(err)
	})
}

// Flush drains buffered events, typically during shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
