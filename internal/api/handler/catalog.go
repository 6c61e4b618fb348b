package handler

import (
	"net/http"

	"github.com/mcoot/creditshop-go/internal/api/response"
)

// CatalogHandler serves the item catalog
type CatalogHandler struct {
	shop Shop
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(shop Shop) *CatalogHandler {
	return &CatalogHandler{shop: shop}
}

// List handles GET /api/v1/catalog
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.shop.Catalog(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Catalog{Items: response.ItemsFromModel(items)})
}
