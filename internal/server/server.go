// Package server accepts client connections and runs a session for each.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/protocol"
	"github.com/mcoot/creditshop-go/internal/session"
)

// Config holds listener settings
type Config struct {
	Host         string
	Port         int
	MaxFrameSize int
	// ShutdownTimeout is how long Shutdown waits for sessions before
	// closing them forcibly
	ShutdownTimeout time.Duration
	Session         session.Config
}

// DefaultConfig returns the stock listener settings
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            9099,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Address returns host:port
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ErrServerClosed is returned by Serve and ServeConn after Shutdown
var ErrServerClosed = errors.New("server closed")

// Server is the connection listener. Each accepted connection gets its own
// goroutine running a session.Session against the shared economy.
type Server struct {
	cfg     Config
	economy session.Economy
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sessionCtx is cancelled only when Shutdown gives up waiting
	sessionCtx    context.Context
	cancelSession context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session.Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New creates a Server. m may be nil.
func New(cfg Config, economy session.Economy, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:           cfg,
		economy:       economy,
		clock:         clk,
		logger:        logger,
		metrics:       m,
		sessionCtx:    ctx,
		cancelSession: cancel,
		sessions:      make(map[*session.Session]struct{}),
	}
}

// Listen binds the listening socket. A bind failure is returned with the
// address so the caller can report it and exit.
func (s *Server) Listen() error {
	addr := s.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address()
}

// Serve accepts connections until Shutdown. It returns nil after a
// shutdown and the accept error otherwise.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve called before listen")
	}

	s.logger.Info("listening for clients", slog.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Same backoff net/http uses for transient accept failures
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("accept failed; retrying",
					slog.String("error", err.Error()),
					slog.Duration("backoff", backoff),
				)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		go func() {
			_ = s.ServeConn(protocol.NewStreamConn(conn, s.cfg.MaxFrameSize), "tcp")
		}()
	}
}

// ServeConn runs a session on an already-framed connection and blocks until
// it ends. It is used for accepted TCP connections and upgraded websockets.
func (s *Server) ServeConn(conn session.Conn, transport string) error {
	sess := session.New(conn, transport, s.economy, s.clock, s.cfg.Session, s.logger, s.metrics)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrServerClosed
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.wg.Done()
	}()

	return sess.Run(s.sessionCtx)
}

// ActiveSessions returns the number of running sessions
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting, lets every session finish its current request
// and send the shutdown notice, then waits. Sessions still running after
// ShutdownTimeout, or when ctx ends, are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	draining := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		draining = append(draining, sess)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down listener", slog.Int("sessions", len(draining)))

	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range draining {
		sess.Drain()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("listener stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	remaining := len(s.sessions)
	for sess := range s.sessions {
		_ = sess.Close()
	}
	s.mu.Unlock()
	s.cancelSession()

	s.logger.Warn("forced sessions closed", slog.Int("sessions", remaining))
	<-done
	return nil
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
