package response

import (
	"time"

	"github.com/mcoot/creditshop-go/internal/model"
)

// Item represents a catalog item in API responses
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description,omitempty"`
}

// ItemFromModel converts a model.Item
func ItemFromModel(i model.Item) Item {
	return Item{
		ID:          int64(i.ID),
		Name:        i.Name,
		Price:       i.Price,
		Description: i.Description,
	}
}

// ItemsFromModel converts a slice of items. The result is never nil.
func ItemsFromModel(items []model.Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = ItemFromModel(item)
	}
	return out
}

// Catalog is the response for the catalog listing
type Catalog struct {
	Items []Item `json:"items"`
}

// Player represents a player with their holdings
type Player struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Credits   int64     `json:"credits"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerFromModel combines a player with their inventory. The inventory
// balance wins over the player row since it is read later.
func PlayerFromModel(p *model.Player, inv *model.Inventory) Player {
	resp := Player{
		ID:        int64(p.ID),
		Nickname:  p.Nickname,
		Credits:   p.Credits,
		Items:     []Item{},
		CreatedAt: p.CreatedAt,
	}
	if inv != nil {
		resp.Credits = inv.Credits
		resp.Items = ItemsFromModel(inv.Items)
	}
	return resp
}

// Health is the response for the health check
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}
