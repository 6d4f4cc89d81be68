package service

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/config"
)

// Server API and websocket listener with graceful shutdown
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg *config.HTTPConfig, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start binds the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts on an already bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Vitals API listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("read_timeout", s.httpServer.ReadTimeout),
		zap.Duration("write_timeout", s.httpServer.WriteTimeout),
	)
	return s.httpServer.Serve(ln)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Draining vitals API connections")
	return s.httpServer.Shutdown(ctx)
}
