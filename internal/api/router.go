package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/creditshop-go/internal/api/apierr"
	"github.com/mcoot/creditshop-go/internal/api/handler"
	"github.com/mcoot/creditshop-go/internal/api/response"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/middleware"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger  *slog.Logger
	Shop    handler.Shop
	Metrics *metrics.Metrics
	// WebSocket serves client sessions at /ws (optional)
	WebSocket http.Handler
	// ActiveSessions reports the listener's session count for /health (optional)
	ActiveSessions func() int
}

// NewRouter creates the read-only HTTP surface
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.Use(middleware.Recovery(cfg.Logger, jsonPanicHandler))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))

	catalogHandler := handler.NewCatalogHandler(cfg.Shop)
	playerHandler := handler.NewPlayerHandler(cfg.Shop)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(notFound)
	getOnly(api, "/health", healthHandler(cfg.ActiveSessions))
	getOnly(api, "/catalog", catalogHandler.List)
	getOnly(api, "/players/{id}", playerHandler.Get)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket).Methods(http.MethodGet)
	}

	return r
}

// getOnly registers h for GET and answers every other method on path with
// 405. The catch-all must follow the GET route directly; mux drops a method
// mismatch once a later method-restricted route fails on path.
func getOnly(r *mux.Router, path string, h http.HandlerFunc) {
	r.HandleFunc(path, h).Methods(http.MethodGet)
	r.HandleFunc(path, methodNotAllowed)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	apierr.WriteError(w, apierr.NewMethodNotAllowedError())
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	apierr.WriteError(w, apierr.NewNotFoundError())
}

func healthHandler(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response.Health{Status: "ok"}
		if sessions != nil {
			resp.Sessions = sessions()
		}
		response.JSON(w, http.StatusOK, resp)
	}
}

func jsonPanicHandler(w http.ResponseWriter, _ *http.Request, _ any) {
	apierr.WriteError(w, apierr.NewInternalError())
}
