package factory

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"github.com/mcoot/creditshop-go/internal/config"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/protocol"
	"github.com/mcoot/creditshop-go/internal/testutil"
)

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
}

func (s *IntegrationSuite) TearDownTest() {
	s.Require().NoError(s.app.Shutdown(s.ctx))
}

// Test: A player's full shopping session through the economy
func (s *IntegrationSuite) TestShoppingFlow() {
	p, err := s.app.Economy.Login(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(500), p.Credits)
	s.Equal(s.app.MockClock.Now(), p.CreatedAt)

	// Buy the brig (150) and the pistol (50)
	balance, err := s.app.Economy.Buy(s.ctx, p.ID, 2)
	s.Require().NoError(err)
	s.Equal(int64(350), balance)
	balance, err = s.app.Economy.Buy(s.ctx, p.ID, 3)
	s.Require().NoError(err)
	s.Equal(int64(300), balance)

	// Lose a bet of 100 with a draw of 95
	s.app.MockRandom.QueueDraw(95)
	result, err := s.app.Economy.Wager(s.ctx, p.ID, 100)
	s.Require().NoError(err)
	s.False(result.Won)
	s.Equal(int64(200), result.Credits)

	// Sell the brig back
	balance, err = s.app.Economy.Sell(s.ctx, p.ID, 2)
	s.Require().NoError(err)
	s.Equal(int64(350), balance)

	inv, err := s.app.Economy.Inventory(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(inv.Items, 1)
	s.Equal("pistol", inv.Items[0].Name)
	s.Equal(int64(350), inv.Credits)
}

// Test: The HTTP surface reflects the ledger
func (s *IntegrationSuite) TestRouterReflectsLedger() {
	p, err := s.app.Economy.Login(s.ctx, "alice")
	s.Require().NoError(err)
	_, err = s.app.Economy.Buy(s.ctx, p.ID, model.ItemID(4))
	s.Require().NoError(err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/players/1", nil)
	s.app.Router.ServeHTTP(rr, req)

	s.Equal(http.StatusOK, rr.Code)
	body := gjson.Parse(rr.Body.String())
	s.Equal("alice", body.Get("nickname").String())
	s.Equal(int64(460), body.Get("credits").Int())
	s.Equal("sword", body.Get("items.0.name").String())
}

// Test: The listener serves clients against the same economy
func (s *IntegrationSuite) TestListenerServesClients() {
	s.Require().NoError(s.app.Server.Listen())
	served := make(chan error, 1)
	go func() { served <- s.app.Server.Serve() }()

	conn, err := net.DialTimeout("tcp", s.app.Server.Addr(), time.Second)
	s.Require().NoError(err)
	defer conn.Close()
	framed := protocol.NewStreamConn(conn, 0)

	send := func(msg any) gjson.Result {
		data, err := protocol.Encode(msg)
		s.Require().NoError(err)
		s.Require().NoError(framed.WriteFrame(data))
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		resp, err := framed.ReadFrame()
		s.Require().NoError(err)
		return gjson.ParseBytes(resp)
	}

	login := send(protocol.LoginMessage("alice"))
	s.Equal(int64(500), login.Get("credits").Int())

	s.app.MockRandom.QueueDraw(10)
	won := send(protocol.WagerMessage(200, login.Get("id").Int()))
	s.Equal("success", won.Get("status").String())
	s.Equal(int64(700), won.Get("credits").Int())

	credits, err := s.app.Economy.Credits(s.ctx, model.PlayerID(login.Get("id").Int()))
	s.Require().NoError(err)
	s.Equal(int64(700), credits)

	s.Require().NoError(s.app.Server.Shutdown(s.ctx))
	s.NoError(<-served)
}

// Production wiring

func TestNewWithEachBackend(t *testing.T) {
	mini := miniredis.RunT(t)

	backends := map[string]func(*config.Config){
		"memory": func(c *config.Config) { c.Storage.Type = config.StorageMemory },
		"sqlite": func(c *config.Config) {
			c.Storage.Type = config.StorageSQLite
			c.Storage.Path = filepath.Join(t.TempDir(), "ledger", "shop.sqlite3")
		},
		"redis": func(c *config.Config) {
			c.Storage.Type = config.StorageRedis
			c.Storage.RedisURL = "redis://" + mini.Addr()
		},
	}

	for name, configure := range backends {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Listen.Port = 0
			cfg.HTTP.Port = 0
			configure(&cfg)

			app, err := New(context.Background(), cfg, testutil.NopLogger())
			require.NoError(t, err)
			defer func() { assert.NoError(t, app.Shutdown(context.Background())) }()

			items, err := app.Economy.Catalog(context.Background())
			require.NoError(t, err)
			assert.Len(t, items, 8)
			assert.Nil(t, app.HTTPServer, "HTTP server is disabled on port 0")
		})
	}
}

func TestNewUsesCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "items:\n  - name: lantern\n    price: 25\n    description: lights the hold\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := config.Default()
	cfg.Storage.Type = config.StorageMemory
	cfg.CatalogPath = path
	cfg.HTTP.Port = 9876

	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = app.Shutdown(context.Background()) }()

	items, err := app.Economy.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "lantern", items[0].Name)
	assert.Equal(t, "lights the hold", items[0].Description)
	assert.NotNil(t, app.HTTPServer)
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Type = config.StorageMemory
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Type = "postgres"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "postgres")
}
