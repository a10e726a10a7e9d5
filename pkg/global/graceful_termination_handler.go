package global

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InstallGracefulTerminationHandler installs signal handlers, so that
// this process gets notified when it is requested to shut down. The
// returned context is canceled upon receipt of SIGINT or SIGTERM, or
// when the returned CancelFunc is called.
func InstallGracefulTerminationHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
