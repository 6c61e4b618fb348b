package server

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"github.com/mcoot/creditshop-go/internal/catalog"
	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/dependencies/mocks"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/protocol"
	"github.com/mcoot/creditshop-go/internal/services/economy"
	"github.com/mcoot/creditshop-go/internal/session"
	"github.com/mcoot/creditshop-go/internal/storage/memory"
	"github.com/mcoot/creditshop-go/internal/testutil"
)

type ServerSuite struct {
	suite.Suite
	economy *economy.Service
	random  *mocks.MockRandom
	server  *Server
	served  chan error
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	ctx := context.Background()
	store := memory.New(nil)
	s.Require().NoError(store.SeedCatalog(ctx, catalog.Default()))
	s.random = mocks.NewMockRandom()
	s.economy = economy.New(store, s.random, economy.DefaultConfig(), testutil.NopLogger(), nil)
	s.startServer(s.economy, time.Second)
}

func (s *ServerSuite) TearDownTest() {
	_ = s.server.Shutdown(context.Background())
	select {
	case <-s.served:
	case <-time.After(2 * time.Second):
		s.Fail("serve did not return")
	}
}

func (s *ServerSuite) startServer(econ session.Economy, shutdownTimeout time.Duration) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.ShutdownTimeout = shutdownTimeout
	s.server = New(cfg, econ, clock.New(), testutil.NopLogger(), metrics.New())
	s.Require().NoError(s.server.Listen())
	s.served = make(chan error, 1)
	go func() { s.served <- s.server.Serve() }()
}

type client struct {
	conn   net.Conn
	framed *protocol.StreamConn
}

func (s *ServerSuite) dial() *client {
	conn, err := net.DialTimeout("tcp", s.server.Addr(), time.Second)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, framed: protocol.NewStreamConn(conn, 0)}
}

func (s *ServerSuite) call(c *client, msg any) gjson.Result {
	data, err := protocol.Encode(msg)
	s.Require().NoError(err)
	s.Require().NoError(c.framed.WriteFrame(data))
	return s.recv(c)
}

func (s *ServerSuite) recv(c *client) gjson.Result {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := c.framed.ReadFrame()
	s.Require().NoError(err)
	return gjson.ParseBytes(resp)
}

func (s *ServerSuite) eventually(cond func() bool) {
	s.Eventually(cond, 2*time.Second, 10*time.Millisecond)
}

func (s *ServerSuite) TestServesTCPClient() {
	c := s.dial()
	login := s.call(c, protocol.LoginMessage("alice"))
	s.Equal(int64(500), login.Get("credits").Int())

	buy := s.call(c, protocol.BuyMessage(2, login.Get("id").Int()))
	s.Equal("success", buy.Get("status").String())
	s.Equal(int64(350), buy.Get("credits").Int())
}

func (s *ServerSuite) TestSessionsAreIndependent() {
	a := s.dial()
	b := s.dial()

	alice := s.call(a, protocol.LoginMessage("alice")).Get("id").Int()
	s.assertFailed(s.call(b, protocol.GetMessage(protocol.GetCredits, alice)))

	bob := s.call(b, protocol.LoginMessage("bob")).Get("id").Int()
	s.NotEqual(alice, bob)
	s.eventually(func() bool { return s.server.ActiveSessions() == 2 })
}

func (s *ServerSuite) TestSameNicknameFromTwoConnections() {
	a := s.dial()
	b := s.dial()

	first := s.call(a, protocol.LoginMessage("alice"))
	s.call(a, protocol.BuyMessage(3, first.Get("id").Int()))

	second := s.call(b, protocol.LoginMessage("alice"))
	s.Equal(first.Get("id").Int(), second.Get("id").Int())
	s.Equal(int64(450), second.Get("credits").Int())
}

func (s *ServerSuite) TestConcurrentClientsBuySameItem() {
	const clients = 8
	var wg sync.WaitGroup
	statuses := make([]string, clients)
	for i := 0; i < clients; i++ {
		c := s.dial()
		wg.Add(1)
		go func(i int, c *client) {
			defer wg.Done()
			data, _ := protocol.Encode(protocol.LoginMessage("player" + string(rune('a'+i))))
			_ = c.framed.WriteFrame(data)
			_, _ = c.framed.ReadFrame()
			data, _ = protocol.Encode(protocol.Message{protocol.FieldBuy: 1})
			_ = c.framed.WriteFrame(data)
			resp, err := c.framed.ReadFrame()
			if err == nil {
				statuses[i] = gjson.GetBytes(resp, "status").String()
			}
		}(i, c)
	}
	wg.Wait()

	for _, status := range statuses {
		s.Equal("success", status)
	}
}

func (s *ServerSuite) TestClientDisconnectIsIsolated() {
	a := s.dial()
	b := s.dial()
	s.call(a, protocol.LoginMessage("alice"))
	s.call(b, protocol.LoginMessage("bob"))

	_ = a.conn.Close()
	s.eventually(func() bool { return s.server.ActiveSessions() == 1 })

	resp := s.call(b, protocol.Message{protocol.FieldGet: protocol.GetCredits})
	s.Equal(int64(500), resp.Get("credits").Int())
}

func (s *ServerSuite) TestBindFailureNamesAddress() {
	cfg := DefaultConfig()
	host, port, err := net.SplitHostPort(s.server.Addr())
	s.Require().NoError(err)
	cfg.Host = host
	cfg.Port, err = strconv.Atoi(port)
	s.Require().NoError(err)

	other := New(cfg, s.economy, clock.New(), testutil.NopLogger(), nil)
	err = other.Listen()
	s.Require().Error(err)
	s.Contains(err.Error(), s.server.Addr())
}

func (s *ServerSuite) TestShutdownNotifiesIdleClients() {
	c := s.dial()
	s.call(c, protocol.LoginMessage("alice"))

	s.Require().NoError(s.server.Shutdown(context.Background()))

	notice := s.recv(c)
	s.Equal(protocol.NoticeShutdown, notice.Get("notice").String())
	s.Zero(s.server.ActiveSessions())

	_, err := net.DialTimeout("tcp", s.server.Addr(), 200*time.Millisecond)
	s.Error(err)
}

// blockingEconomy never finishes Credits on its own
type blockingEconomy struct {
	*economy.Service
	started chan struct{}
}

func (b blockingEconomy) Credits(ctx context.Context, playerID model.PlayerID) (int64, error) {
	close(b.started)
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *ServerSuite) TestShutdownForcesStuckSessions() {
	s.Require().NoError(s.server.Shutdown(context.Background()))
	<-s.served

	blocking := blockingEconomy{Service: s.economy, started: make(chan struct{})}
	s.startServer(blocking, 100*time.Millisecond)

	c := s.dial()
	s.call(c, protocol.LoginMessage("alice"))
	data, err := protocol.Encode(protocol.Message{protocol.FieldGet: protocol.GetCredits})
	s.Require().NoError(err)
	s.Require().NoError(c.framed.WriteFrame(data))
	<-blocking.started

	start := time.Now()
	s.Require().NoError(s.server.Shutdown(context.Background()))
	s.Less(time.Since(start), 2*time.Second)
	s.Zero(s.server.ActiveSessions())
}

func (s *ServerSuite) TestServeConnAfterShutdown() {
	s.Require().NoError(s.server.Shutdown(context.Background()))

	a, b := net.Pipe()
	defer a.Close()
	err := s.server.ServeConn(protocol.NewStreamConn(b, 0), "tcp")
	s.ErrorIs(err, ErrServerClosed)
}

// WebSocket transport

func (s *ServerSuite) TestWebSocketSession() {
	httpServer := httptest.NewServer(s.server.WebSocketHandler())
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer ws.Close()

	send := func(msg any) gjson.Result {
		data, err := protocol.Encode(msg)
		s.Require().NoError(err)
		s.Require().NoError(ws.WriteMessage(websocket.TextMessage, data))
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, resp, err := ws.ReadMessage()
		s.Require().NoError(err)
		return gjson.ParseBytes(resp)
	}

	login := send(protocol.LoginMessage("alice"))
	s.Equal("alice", login.Get("nickname").String())

	items := send(protocol.GetMessage(protocol.GetItems, login.Get("id").Int()))
	s.Len(items.Get("items").Array(), 8)

	s.assertFailed(send(protocol.Message{"nonsense": true}))

	big := strings.Repeat("x", protocol.DefaultMaxFrameSize+1)
	s.assertFailed(send(protocol.Message{protocol.FieldLogin: big}))

	s.Require().NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"logout":"1"}`)))
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	s.Error(err)
}

func (s *ServerSuite) assertFailed(resp gjson.Result) {
	s.Equal("failed", resp.Get("status").String(), resp.Raw)
}
