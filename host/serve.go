package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server timeouts shared by the HTTP shells.
const (
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// NewHTTPServer wraps handler for addr with the shared timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
}

// ListenAndServe runs srv until ctx ends, then shuts it down gracefully.
// If ln is nil the server listens on srv.Addr.
func ListenAndServe(ctx context.Context, srv *http.Server, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		if ln != nil {
			serveErr <- srv.Serve(ln)
			return
		}
		serveErr <- srv.ListenAndServe()
	}()
	addr := srv.Addr
	if ln != nil {
		addr = ln.Addr().String()
	}
	Logger().Info("listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		err := srv.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
