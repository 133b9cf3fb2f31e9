package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log zerolog.Logger) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{addr: addr, handler: handler, shutdownTimeout: shutdownTimeout, log: log}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
// No write timeout: status streams stay open up to STREAM_MAX_WAIT.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
