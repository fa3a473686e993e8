package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry enables error reporting. It is a no-op when dsn is empty.
func InitSentry(dsn, env, release string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
		TracesSampleRate: 0,
	})
}

// FlushSentry waits for buffered events before shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err outside a request.
func CaptureError(err error) {
	if err != nil {
		sentry.CaptureException(err)
	}
}
