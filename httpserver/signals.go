package httpserver

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownSignals are the signals that trigger a graceful shutdown.
var ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// NotifySignals subscribes to ShutdownSignals and returns the channel they are
// delivered on. Call stop to unsubscribe; until then the default
// terminate-on-signal behavior is suppressed.
func NotifySignals() (sigCh <-chan os.Signal, stop func()) {
	ch := make(chan os.Signal, len(ShutdownSignals))
	signal.Notify(ch, ShutdownSignals...)
	return ch, func() { signal.Stop(ch) }
}

// WatchSignals shuts srv down when a signal arrives on sigCh.
//
// Every signal is handed to srv.Shutdown; only the first one has any effect,
// later ones are logged and ignored while the server drains. WatchSignals
// keeps consuming signals until srv terminates, then returns the shutdown
// result. It returns nil early if ctx ends first.
//
// The server is passed explicitly, so several servers can be watched
// independently in one process:
//
//	sigCh, stop := httpserver.NotifySignals()
//	defer stop()
//
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	return httpserver.WatchSignals(ctx, server, sigCh)
func WatchSignals(ctx context.Context, srv *Server, sigCh <-chan os.Signal) error {
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			go func(name string) {
				_ = srv.Shutdown(context.WithoutCancel(ctx), name)
			}(sig.String())
		case <-srv.Done():
			return srv.Wait()
		case <-ctx.Done():
			return nil
		}
	}
}
