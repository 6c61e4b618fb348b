package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mcoot/creditshop-go/internal/api"
	"github.com/mcoot/creditshop-go/internal/api/apierr"
	"github.com/mcoot/creditshop-go/internal/api/response"
	"github.com/mcoot/creditshop-go/internal/factory"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/protocol"
	"github.com/mcoot/creditshop-go/internal/testutil"
)

// testServer wraps a TestApp's router
type testServer struct {
	app     *factory.TestApp
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	app := factory.NewTestApp()
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return &testServer{app: app, handler: app.Router}
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) login(t *testing.T, nickname string) *model.Player {
	t.Helper()
	p, err := ts.app.Economy.Login(context.Background(), nickname)
	require.NoError(t, err)
	return p
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apierr.APIError {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get("/api/v1/health")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp response.Health
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Sessions)
}

func TestCatalog(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get("/api/v1/catalog")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var resp response.Catalog
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 8)
	assert.Equal(t, response.Item{ID: 1, Name: "galeon", Price: 400}, resp.Items[0])
	assert.Equal(t, "teddy bear", resp.Items[7].Name)
	// Empty descriptions are omitted
	assert.NotContains(t, rr.Body.String(), "description")
}

func TestGetPlayer(t *testing.T) {
	ts := newTestServer(t)
	p := ts.login(t, "alice")
	_, err := ts.app.Economy.Buy(context.Background(), p.ID, 3)
	require.NoError(t, err)

	rr := ts.get("/api/v1/players/1")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp response.Player
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(p.ID), resp.ID)
	assert.Equal(t, "alice", resp.Nickname)
	assert.Equal(t, int64(450), resp.Credits)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "pistol", resp.Items[0].Name)
	assert.Equal(t, ts.app.MockClock.Now(), resp.CreatedAt)
}

func TestGetPlayerWithoutItems(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "alice")

	rr := ts.get("/api/v1/players/1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", gjson.Get(rr.Body.String(), "items").Raw)
}

func TestGetPlayerNotFound(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get("/api/v1/players/42")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodePlayerNotFound, decodeError(t, rr).Code)
}

func TestGetPlayerInvalidID(t *testing.T) {
	ts := newTestServer(t)

	for _, id := range []string{"abc", "0", "-3"} {
		rr := ts.get("/api/v1/players/" + id)
		assert.Equal(t, http.StatusBadRequest, rr.Code, id)
		assert.Equal(t, apierr.CodeInvalidRequest, decodeError(t, rr).Code, id)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/catalog", "/api/v1/players/1"} {
		for _, method := range []string{http.MethodPost, http.MethodDelete} {
			rr := httptest.NewRecorder()
			ts.handler.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method+" "+path)
			assert.Equal(t, http.MethodGet, rr.Header().Get("Allow"))
			assert.Equal(t, apierr.CodeMethodNotAllowed, decodeError(t, rr).Code)
		}
	}

	// GET still reaches the handlers registered alongside the catch-alls
	assert.Equal(t, http.StatusOK, ts.get("/api/v1/catalog").Code)
}

func TestUnknownPathIsJSONNotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/nope", "/api/v1/players/1/items", "/elsewhere"} {
		rr := ts.get(path)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), path)
		assert.Equal(t, apierr.CodeNotFound, decodeError(t, rr).Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "alice")
	ts.get("/api/v1/catalog")

	rr := ts.get("/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `creditshop_economy_operations_total{op="login",status="success"} 1`)
	assert.Contains(t, body, `creditshop_http_requests_total{method="GET",route="/api/v1/catalog",status="200"} 1`)
}

func TestWebSocketEndpoint(t *testing.T) {
	ts := newTestServer(t)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	data, err := protocol.Encode(protocol.LoginMessage("alice"))
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, resp, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "alice", gjson.GetBytes(resp, "nickname").String())

	require.Eventually(t, func() bool {
		rr := ts.get("/api/v1/health")
		return gjson.Get(rr.Body.String(), "sessions").Int() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// failingShop fails every read with a storage error, or panics
type failingShop struct {
	panics bool
}

func (f failingShop) Catalog(ctx context.Context) ([]model.Item, error) {
	if f.panics {
		panic("catalog exploded")
	}
	return nil, model.NewStorageError("list catalog", errors.New("disk on fire"))
}

func (f failingShop) Player(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return nil, model.NewStorageError("get player", errors.New("disk on fire"))
}

func (f failingShop) Inventory(ctx context.Context, id model.PlayerID) (*model.Inventory, error) {
	return nil, model.NewStorageError("list owned", errors.New("disk on fire"))
}

func TestStorageFailureIsServiceUnavailable(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:  testutil.NopLogger(),
		Shop:    failingShop{},
		Metrics: metrics.New(),
	})

	for _, path := range []string{"/api/v1/catalog", "/api/v1/players/1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
		assert.Equal(t, apierr.CodeStorageUnavailable, decodeError(t, rr).Code, path)
		assert.NotContains(t, rr.Body.String(), "disk on fire")
	}
}

func TestPanicIsInternalError(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger: testutil.NopLogger(),
		Shop:   failingShop{panics: true},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, apierr.CodeInternalError, decodeError(t, rr).Code)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger: testutil.NopLogger(),
		Shop:   failingShop{},
	})

	for _, path := range []string{"/metrics", "/ws"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, apierr.CodeNotFound, decodeError(t, rr).Code, path)
	}
}

func TestServerListenAndShutdown(t *testing.T) {
	cfg := api.DefaultServerConfig()
	cfg.Port = 0
	srv := api.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
	}), cfg, testutil.NopLogger())

	require.NoError(t, srv.Listen())
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-served)
}
