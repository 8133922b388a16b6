package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, logger: logger}
}

// Listen 绑定端口后在后台提供服务；正常关闭时不返回错误
func (s *Server) Listen() (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("Starting relief-allocator HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return ln.Addr(), errCh, nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping relief-allocator HTTP server")
	return s.httpServer.Shutdown(ctx)
}
