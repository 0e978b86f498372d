// Package httpserver owns the listener lifecycle: timeouts, serving and
// graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultShutdownTimeout bounds how long in-flight requests may drain.
	DefaultShutdownTimeout = 10 * time.Second

	writeTimeoutMargin = 5 * time.Second
)

// New builds a server whose write deadline outlives the handler timeout, so a
// timed-out handler can still send its 504 body.
func New(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	write := 30 * time.Second
	if requestTimeout > 0 {
		write = requestTimeout + writeTimeoutMargin
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves until ctx is done or the listener fails, then shuts down
// gracefully. A clean shutdown returns nil.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// ListenAndRun opens srv.Addr and calls Run.
func ListenAndRun(ctx context.Context, srv *http.Server, logger *slog.Logger, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Run(ctx, srv, ln, logger, shutdownTimeout)
}
