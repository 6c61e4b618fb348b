package storage

import (
	"context"

	"github.com/mcoot/creditshop-go/internal/model"
)

// Storage is the ledger: players, the item catalog and ownership records.
// Every method is atomic with respect to concurrent callers.
type Storage interface {
	// Player operations
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error)
	// CreatePlayer returns model.ErrDuplicateNickname if the nickname is taken
	CreatePlayer(ctx context.Context, nickname string, credits int64) (*model.Player, error)
	GetCredits(ctx context.Context, id model.PlayerID) (int64, error)

	// Catalog operations
	SeedCatalog(ctx context.Context, items []model.Item) error
	ListCatalog(ctx context.Context) ([]model.Item, error)
	PriceOf(ctx context.Context, id model.ItemID) (int64, error)

	// Ownership views
	ListPurchasable(ctx context.Context, id model.PlayerID) ([]model.Item, error)
	ListOwned(ctx context.Context, id model.PlayerID) (*model.Inventory, error)

	// UpdatePlayer runs fn as a single transaction serialized on the player.
	// Writes made through tx are committed only if fn returns nil.
	// Returns model.ErrPlayerNotFound if the player does not exist.
	// Optimistic backends may call fn more than once, so fn must not have
	// effects outside tx.
	UpdatePlayer(ctx context.Context, id model.PlayerID, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// Tx is the view of one player's ledger rows inside UpdatePlayer.
// It must not be retained after fn returns.
type Tx interface {
	Player(ctx context.Context) (*model.Player, error)
	PriceOf(ctx context.Context, id model.ItemID) (int64, error)
	Owns(ctx context.Context, id model.ItemID) (bool, error)

	// RecordPurchase returns model.ErrAlreadyOwned if the player owns the item
	RecordPurchase(ctx context.Context, id model.ItemID) error
	// RemoveOwnership returns model.ErrNotOwned if there is nothing to remove
	RemoveOwnership(ctx context.Context, id model.ItemID) error
	// SetBalance does not validate the amount; callers check before writing
	SetBalance(ctx context.Context, credits int64) error
}
