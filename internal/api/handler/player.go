package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/creditshop-go/internal/api/response"
	"github.com/mcoot/creditshop-go/internal/model"
)

// Shop is the read side of the economy the HTTP surface needs
type Shop interface {
	Catalog(ctx context.Context) ([]model.Item, error)
	Player(ctx context.Context, playerID model.PlayerID) (*model.Player, error)
	Inventory(ctx context.Context, playerID model.PlayerID) (*model.Inventory, error)
}

// PlayerHandler handles player lookups
type PlayerHandler struct {
	shop Shop
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(shop Shop) *PlayerHandler {
	return &PlayerHandler{shop: shop}
}

// Get handles GET /api/v1/players/{id}
func (h *PlayerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, NewInvalidRequestError("player id must be a positive integer"))
		return
	}

	player, err := h.shop.Player(r.Context(), model.PlayerID(id))
	if err != nil {
		WriteError(w, err)
		return
	}
	inv, err := h.shop.Inventory(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PlayerFromModel(player, inv))
}
