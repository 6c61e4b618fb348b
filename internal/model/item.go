package model

// ItemID identifies a catalog item
type ItemID int64

// Item is a catalog entry. The catalog is read-only once seeded.
type Item struct {
	ID          ItemID
	Name        string
	Price       int64
	Description string
}

// Inventory is the set of items a player owns together with their balance
type Inventory struct {
	Items   []Item
	Credits int64
}

// WagerResult describes the outcome of a single bet
type WagerResult struct {
	Bet     int64
	Draw    int
	Won     bool
	Credits int64 // balance after the bet was settled
}
