package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// OpsServer serves the ops surface for as long as the worker runs.
type OpsServer struct {
	server *http.Server
	logger Logger
	drain  time.Duration
}

// NewOpsServer binds handler to PORT with the configured timeouts.
func NewOpsServer(cfg *Config, handler http.Handler, logger Logger) *OpsServer {
	return &OpsServer{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		logger: logger,
		drain:  cfg.HTTPShutdownTimeout,
	}
}

// Run listens and blocks until ctx ends, then drains in-flight requests for
// at most the shutdown timeout.
func (s *OpsServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("ops server: listen %s: %w", s.server.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *OpsServer) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("ops: listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	drain := s.drain
	if drain <= 0 {
		drain = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server: shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Msg("ops: stopped")
	return nil
}
