package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/creditshop-go/internal/cli"
	"github.com/mcoot/creditshop-go/internal/config"
	"github.com/mcoot/creditshop-go/internal/factory"
	"github.com/mcoot/creditshop-go/internal/testutil"
)

// testServer runs the production wiring on a temporary sqlite ledger
type testServer struct {
	app     *factory.App
	httpURL string
	served  chan error
}

func startTestServer(t *testing.T, dbPath string) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Listen.Port = 0
	cfg.Listen.ShutdownTimeout = time.Second
	cfg.HTTP.Port = 0
	cfg.Storage.Type = config.StorageSQLite
	cfg.Storage.Path = dbPath

	app, err := factory.New(context.Background(), cfg, testutil.NopLogger())
	require.NoError(t, err)
	require.NoError(t, app.Server.Listen())

	ts := &testServer{app: app, served: make(chan error, 1)}
	go func() { ts.served <- app.Server.Serve() }()

	httpServer := httptest.NewServer(app.Router)
	ts.httpURL = httpServer.URL

	var once sync.Once
	t.Cleanup(func() {
		once.Do(func() {
			httpServer.Close()
			ts.stop(t)
		})
	})
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	if ts.app == nil {
		return
	}
	require.NoError(t, ts.app.Shutdown(context.Background()))
	select {
	case err := <-ts.served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	ts.app = nil
}

// run executes shopcli in-process and returns its output
func (ts *testServer) run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--server", ts.app.Server.Addr(),
		"--http", ts.httpURL,
		"--output", "json",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (ts *testServer) mustRun(t *testing.T, out any, args ...string) {
	t.Helper()
	raw, err := ts.run(args...)
	require.NoError(t, err, raw)
	require.NoError(t, json.Unmarshal([]byte(raw), out), raw)
}

func TestCLIShoppingSession(t *testing.T) {
	ts := startTestServer(t, filepath.Join(t.TempDir(), "shop.sqlite3"))

	var player cli.PlayerResult
	ts.mustRun(t, &player, "--nick", "alice", "login")
	assert.Equal(t, "alice", player.Nickname)
	assert.Equal(t, int64(500), player.Credits)

	var items cli.ItemList
	ts.mustRun(t, &items, "--nick", "alice", "items")
	assert.Len(t, items.Items, 8)

	var bought cli.StatusResult
	ts.mustRun(t, &bought, "--nick", "alice", "buy", "2")
	assert.Equal(t, "success", bought.Status)
	require.NotNil(t, bought.Credits)
	assert.Equal(t, int64(350), *bought.Credits)

	var inv cli.InventoryResult
	ts.mustRun(t, &inv, "--nick", "alice", "inventory")
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "brig", inv.Items[0].Name)
	assert.Equal(t, int64(350), inv.Credits)

	var sold cli.StatusResult
	ts.mustRun(t, &sold, "--nick", "alice", "sell", "2")
	assert.Equal(t, int64(500), *sold.Credits)

	var credits cli.CreditsResult
	ts.mustRun(t, &credits, "--nick", "alice", "credits")
	assert.Equal(t, int64(500), credits.Credits)
}

func TestCLIRejectedRequests(t *testing.T) {
	ts := startTestServer(t, filepath.Join(t.TempDir(), "shop.sqlite3"))

	// teddy bear costs 4000
	out, err := ts.run("--nick", "bob", "buy", "8")
	assert.ErrorIs(t, err, cli.ErrRequestFailed)
	assert.Contains(t, out, `"failed"`)

	_, err = ts.run("--nick", "bob", "bet", "0")
	assert.ErrorIs(t, err, cli.ErrRequestFailed)

	_, err = ts.run("--nick", "bob", "bet", "501")
	assert.ErrorIs(t, err, cli.ErrRequestFailed)

	_, err = ts.run("--nick", "bob", "sell", "1")
	assert.ErrorIs(t, err, cli.ErrRequestFailed)

	_, err = ts.run("items")
	assert.ErrorContains(t, err, "--nick")

	_, err = ts.run("--nick", "bob", "buy", "one")
	assert.ErrorContains(t, err, "integer")

	var credits cli.CreditsResult
	ts.mustRun(t, &credits, "--nick", "bob", "credits")
	assert.Equal(t, int64(500), credits.Credits)
}

func TestCLIBetSettles(t *testing.T) {
	ts := startTestServer(t, filepath.Join(t.TempDir(), "shop.sqlite3"))

	var result cli.StatusResult
	ts.mustRun(t, &result, "--nick", "carol", "bet", "100")
	require.NotNil(t, result.Credits)
	switch result.Status {
	case "success":
		assert.Equal(t, int64(600), *result.Credits)
	case "failed":
		assert.Equal(t, int64(400), *result.Credits)
	default:
		t.Fatalf("unexpected status %q", result.Status)
	}
}

func TestCLIHTTPCommands(t *testing.T) {
	ts := startTestServer(t, filepath.Join(t.TempDir(), "shop.sqlite3"))

	var health cli.HealthResult
	ts.mustRun(t, &health, "health")
	assert.Equal(t, "ok", health.Status)

	var catalog cli.ItemList
	ts.mustRun(t, &catalog, "catalog")
	require.Len(t, catalog.Items, 8)
	assert.Equal(t, "galeon", catalog.Items[0].Name)

	var player cli.PlayerResult
	ts.mustRun(t, &player, "--nick", "dave", "login")
	ts.mustRun(t, &cli.StatusResult{}, "--nick", "dave", "buy", "4")

	var detail cli.PlayerDetail
	ts.mustRun(t, &detail, "player", "1")
	assert.Equal(t, "dave", detail.Nickname)
	assert.Equal(t, int64(460), detail.Credits)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "sword", detail.Items[0].Name)

	_, err := ts.run("player", "99")
	assert.ErrorContains(t, err, "PLAYER_NOT_FOUND")
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shop.sqlite3")

	first := startTestServer(t, dbPath)
	var bought cli.StatusResult
	first.mustRun(t, &bought, "--nick", "erin", "buy", "1")
	assert.Equal(t, int64(100), *bought.Credits)
	first.stop(t)

	second := startTestServer(t, dbPath)
	var inv cli.InventoryResult
	second.mustRun(t, &inv, "--nick", "erin", "inventory")
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "galeon", inv.Items[0].Name)
	assert.Equal(t, int64(100), inv.Credits)

	// The catalog is not seeded twice
	var catalog cli.ItemList
	second.mustRun(t, &catalog, "catalog")
	assert.Len(t, catalog.Items, 8)
}

func TestConcurrentClientsShareLedger(t *testing.T) {
	ts := startTestServer(t, filepath.Join(t.TempDir(), "shop.sqlite3"))

	var player cli.PlayerResult
	ts.mustRun(t, &player, "--nick", "frank", "login")

	// galeon (400) and brig (150) together exceed the 500 starting credits,
	// so two sessions racing for them cannot both win
	items := []int64{1, 2}
	results := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item int64) {
			defer wg.Done()
			c, err := cli.DialShop(ts.app.Server.Addr(), 2*time.Second)
			if err != nil {
				results[i] = err
				return
			}
			defer func() { _ = c.Close() }()
			if _, err := c.Login("frank"); err != nil {
				results[i] = err
				return
			}
			_, results[i] = c.Buy(item)
		}(i, item)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, cli.ErrRequestFailed)
		}
	}
	assert.Equal(t, 1, succeeded)

	var inv cli.InventoryResult
	ts.mustRun(t, &inv, "--nick", "frank", "inventory")
	require.Len(t, inv.Items, 1)
	assert.Equal(t, 500-inv.Items[0].Price, inv.Credits)
}
