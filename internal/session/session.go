// Package session runs one client connection: it decodes framed requests,
// gates them on login state and routes them to the economy.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/protocol"
)

// Conn is a message-framed client connection
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Economy is the set of operations a session can invoke
type Economy interface {
	Login(ctx context.Context, nickname string) (*model.Player, error)
	Items(ctx context.Context, playerID model.PlayerID) ([]model.Item, error)
	Inventory(ctx context.Context, playerID model.PlayerID) (*model.Inventory, error)
	Credits(ctx context.Context, playerID model.PlayerID) (int64, error)
	Buy(ctx context.Context, playerID model.PlayerID, itemID model.ItemID) (int64, error)
	Sell(ctx context.Context, playerID model.PlayerID, itemID model.ItemID) (int64, error)
	Wager(ctx context.Context, playerID model.PlayerID, bet int64) (*model.WagerResult, error)
}

// State is the login state of a session
type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds per-session limits
type Config struct {
	// RequestsPerSecond is the sustained request rate; zero disables limiting
	RequestsPerSecond float64
	// RequestBurst is how many requests may arrive back to back
	RequestBurst int
	// WriteTimeout bounds each response write; zero means DefaultWriteTimeout
	WriteTimeout time.Duration
}

// DefaultWriteTimeout drops a peer that stops reading its responses
const DefaultWriteTimeout = 10 * time.Second

// Rejection reasons, used as metric labels
const (
	rejectMalformed       = "malformed"
	rejectOversized       = "oversized"
	rejectRateLimited     = "rate_limited"
	rejectUnauthenticated = "unauthenticated"
	rejectPlayerMismatch  = "player_mismatch"
	rejectPanic           = "panic"
)

// Session is the per-connection context. Only Run's goroutine touches the
// login fields; Drain and Close may be called from anywhere.
type Session struct {
	id          string
	transport   string
	connectedAt time.Time

	conn         Conn
	economy      Economy
	limiter      *rate.Limiter
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	state    atomic.Int32
	draining atomic.Bool
	player   *model.Player
}

// New creates a session for conn. transport names the listener ("tcp", "ws").
func New(
	conn Conn,
	transport string,
	economy Economy,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Session {
	id := uuid.NewString()
	s := &Session{
		id:          id,
		transport:   transport,
		connectedAt: clk.Now(),
		conn:        conn,
		economy:     economy,
		logger: logger.With(
			slog.String("session_id", id),
			slog.String("transport", transport),
			slog.String("remote", conn.RemoteAddr()),
		),
		metrics:      m,
		writeTimeout: cfg.WriteTimeout,
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RequestBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// ID returns the session's correlation id
func (s *Session) ID() string {
	return s.id
}

// State returns the current login state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run serves requests until logout, disconnect or Drain. It returns nil for
// an orderly end and the transport error otherwise. The connection is
// closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.SessionOpened(s.transport)
	s.logger.Info("session opened")
	defer func() {
		s.state.Store(int32(StateClosed))
		_ = s.conn.Close()
		s.metrics.SessionClosed()
		s.logger.Info("session closed", slog.Duration("connected_for", time.Since(s.connectedAt)))
	}()

	for {
		payload, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.reject(rejectOversized, err)
				if err := s.write(protocol.Failed()); err != nil {
					return err
				}
				continue
			}
			if s.draining.Load() {
				// Best effort; the client may already be gone
				_ = s.write(protocol.NoticeResponse{Notice: protocol.NoticeShutdown})
				return nil
			}
			if isDisconnect(err) {
				return nil
			}
			s.logger.Warn("session transport error", slog.String("error", err.Error()))
			return err
		}

		resp, done := s.handle(ctx, payload)
		if done {
			return nil
		}
		if err := s.write(resp); err != nil {
			if isDisconnect(err) {
				return nil
			}
			s.logger.Warn("session write failed", slog.String("error", err.Error()))
			return err
		}
	}
}

// Drain asks Run to finish the request in progress, notify the client and
// return. A session blocked waiting for a request returns immediately.
func (s *Session) Drain() {
	s.draining.Store(true)
	_ = s.conn.SetReadDeadline(time.Now())
}

// Close drops the connection without waiting for Run
func (s *Session) Close() error {
	return s.conn.Close()
}

// handle decodes and answers one request. done reports a logout.
func (s *Session) handle(ctx context.Context, payload []byte) (resp any, done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RequestRejected(rejectPanic)
			s.logger.Error("panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			resp, done = protocol.Failed(), false
		}
	}()

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		s.reject(rejectMalformed, err)
		return protocol.Failed(), false
	}

	if req.Kind != protocol.KindLogout {
		if s.limiter != nil && !s.limiter.Allow() {
			s.reject(rejectRateLimited, nil)
			return protocol.Failed(), false
		}
	}

	if req.Kind != protocol.KindLogin && req.Kind != protocol.KindLogout {
		if s.State() != StateAuthenticated {
			s.reject(rejectUnauthenticated, nil)
			return protocol.Failed(), false
		}
		if req.HasPlayerID && req.PlayerID != s.player.ID {
			s.reject(rejectPlayerMismatch, nil)
			return protocol.Failed(), false
		}
	}

	return s.dispatch(ctx, req)
}

// dispatch routes a validated request to the economy
func (s *Session) dispatch(ctx context.Context, req protocol.Request) (any, bool) {
	switch req.Kind {
	case protocol.KindLogin:
		p, err := s.economy.Login(ctx, req.Nickname)
		if err != nil {
			return s.failed(req, err), false
		}
		s.player = p
		s.state.Store(int32(StateAuthenticated))
		s.logger.Info("player logged in",
			slog.Int64("player_id", int64(p.ID)),
			slog.String("nickname", p.Nickname),
		)
		return protocol.NewPlayerResponse(p), false

	case protocol.KindGetItems:
		items, err := s.economy.Items(ctx, s.player.ID)
		if err != nil {
			return s.failed(req, err), false
		}
		return protocol.ItemsResponse{Items: protocol.ItemViews(items)}, false

	case protocol.KindGetInventory:
		inv, err := s.economy.Inventory(ctx, s.player.ID)
		if err != nil {
			return s.failed(req, err), false
		}
		return protocol.InventoryResponse{Items: protocol.ItemViews(inv.Items), Credits: inv.Credits}, false

	case protocol.KindGetCredits:
		credits, err := s.economy.Credits(ctx, s.player.ID)
		if err != nil {
			return s.failed(req, err), false
		}
		return protocol.CreditsResponse{Credits: credits}, false

	case protocol.KindBuy:
		balance, err := s.economy.Buy(ctx, s.player.ID, req.ItemID)
		if err != nil {
			return s.failed(req, err), false
		}
		return protocol.Settled(model.StatusSuccess, balance), false

	case protocol.KindSell:
		balance, err := s.economy.Sell(ctx, s.player.ID, req.ItemID)
		if err != nil {
			return s.failed(req, err), false
		}
		return protocol.Settled(model.StatusSuccess, balance), false

	case protocol.KindWager:
		res, err := s.economy.Wager(ctx, s.player.ID, req.Bet)
		if err != nil {
			return s.failed(req, err), false
		}
		status := model.StatusFailed
		if res.Won {
			status = model.StatusSuccess
		}
		return protocol.Settled(status, res.Credits), false

	case protocol.KindLogout:
		var playerID int64
		if s.player != nil {
			playerID = int64(s.player.ID)
		}
		s.logger.Info("player logged out", slog.Int64("player_id", playerID))
		return nil, true

	default:
		s.reject(rejectMalformed, nil)
		return protocol.Failed(), false
	}
}

func (s *Session) failed(req protocol.Request, err error) protocol.StatusResponse {
	s.logger.Debug("request failed",
		slog.String("kind", req.Kind.String()),
		slog.String("error", err.Error()),
	)
	return protocol.Failed()
}

func (s *Session) reject(reason string, err error) {
	s.metrics.RequestRejected(reason)
	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Debug("request rejected", attrs...)
}

func (s *Session) write(resp any) error {
	data, err := protocol.Encode(resp)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteFrame(data)
}

// isDisconnect reports errors that mean the peer or the server closed the
// connection rather than a fault worth logging
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
