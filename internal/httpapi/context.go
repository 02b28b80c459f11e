package httpapi

import (
	"context"
)

// shutdownCtx is canceled when the server starts shutting down. It is
// Background until SetBaseContext installs the process context.
var shutdownCtx = context.Background()

// SetBaseContext installs the context whose cancellation aborts every
// in-flight /generate request. A nil ctx restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx = ctx
}

// generateContext is the cancellation handle handed to the queue for one
// /generate request. It keeps the request's values and is canceled when the
// client disconnects, when shutdown begins, or when the returned func runs.
func generateContext(reqCtx, shutdown context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(reqCtx)
	stop := context.AfterFunc(shutdown, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
