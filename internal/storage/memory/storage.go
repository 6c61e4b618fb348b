package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// mu guards the maps; playerLocks serialize UpdatePlayer per player so
// different players never wait on each other's transactions.
type Storage struct {
	clock clock.Clock

	mu            sync.RWMutex
	players       map[model.PlayerID]*model.Player
	nicknameIndex map[string]model.PlayerID
	items         map[model.ItemID]model.Item
	owned         map[model.PlayerID]map[model.ItemID]time.Time
	lastPlayerID  model.PlayerID

	locksMu     sync.Mutex
	playerLocks map[model.PlayerID]*sync.Mutex
}

// New creates a new in-memory storage instance
func New(clk clock.Clock) *Storage {
	if clk == nil {
		clk = clock.New()
	}
	return &Storage{
		clock:         clk,
		players:       make(map[model.PlayerID]*model.Player),
		nicknameIndex: make(map[string]model.PlayerID),
		items:         make(map[model.ItemID]model.Item),
		owned:         make(map[model.PlayerID]map[model.ItemID]time.Time),
		playerLocks:   make(map[model.PlayerID]*sync.Mutex),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Close is a no-op for the in-memory store
func (s *Storage) Close() error {
	return nil
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nicknameIndex[nickname]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	cp := *s.players[id]
	return &cp, nil
}

func (s *Storage) CreatePlayer(ctx context.Context, nickname string, credits int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nicknameIndex[nickname]; ok {
		return nil, model.ErrDuplicateNickname
	}
	s.lastPlayerID++
	p := &model.Player{
		ID:        s.lastPlayerID,
		Nickname:  nickname,
		Credits:   credits,
		CreatedAt: s.clock.Now(),
	}
	s.players[p.ID] = p
	s.nicknameIndex[nickname] = p.ID
	cp := *p
	return &cp, nil
}

func (s *Storage) GetCredits(ctx context.Context, id model.PlayerID) (int64, error) {
	p, err := s.GetPlayer(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}

// Catalog operations

func (s *Storage) SeedCatalog(ctx context.Context, items []model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) > 0 {
		return nil
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return nil
}

func (s *Storage) ListCatalog(ctx context.Context) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedItems(func(model.ItemID) bool { return true }), nil
}

func (s *Storage) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return 0, model.ErrItemNotFound
	}
	return item.Price, nil
}

// Ownership views

func (s *Storage) ListPurchasable(ctx context.Context, id model.PlayerID) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.players[id]; !ok {
		return nil, model.ErrPlayerNotFound
	}
	owned := s.owned[id]
	return s.sortedItems(func(itemID model.ItemID) bool {
		_, has := owned[itemID]
		return !has
	}), nil
}

func (s *Storage) ListOwned(ctx context.Context, id model.PlayerID) (*model.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	owned := s.owned[id]
	items := s.sortedItems(func(itemID model.ItemID) bool {
		_, has := owned[itemID]
		return has
	})
	return &model.Inventory{Items: items, Credits: p.Credits}, nil
}

// sortedItems returns catalog items matching keep, ordered by id.
// Caller must hold mu.
func (s *Storage) sortedItems(keep func(model.ItemID) bool) []model.Item {
	items := make([]model.Item, 0, len(s.items))
	for id, item := range s.items {
		if keep(id) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Transactions

func (s *Storage) UpdatePlayer(ctx context.Context, id model.PlayerID, fn func(ctx context.Context, tx storage.Tx) error) error {
	lock := s.playerLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	p, ok := s.players[id]
	var snapshot model.Player
	if ok {
		snapshot = *p
	}
	s.mu.RUnlock()
	if !ok {
		return model.ErrPlayerNotFound
	}

	tx := &memTx{
		s:       s,
		player:  snapshot,
		added:   make(map[model.ItemID]bool),
		removed: make(map[model.ItemID]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[id].Credits = tx.player.Credits
	if len(tx.added) > 0 && s.owned[id] == nil {
		s.owned[id] = make(map[model.ItemID]time.Time)
	}
	now := s.clock.Now()
	for itemID := range tx.added {
		s.owned[id][itemID] = now
	}
	for itemID := range tx.removed {
		delete(s.owned[id], itemID)
	}
	return nil
}

func (s *Storage) playerLock(id model.PlayerID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.playerLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.playerLocks[id] = lock
	}
	return lock
}

// memTx stages writes until UpdatePlayer commits them
type memTx struct {
	s       *Storage
	player  model.Player
	added   map[model.ItemID]bool
	removed map[model.ItemID]bool
}

func (t *memTx) Player(ctx context.Context) (*model.Player, error) {
	cp := t.player
	return &cp, nil
}

func (t *memTx) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	return t.s.PriceOf(ctx, id)
}

func (t *memTx) Owns(ctx context.Context, id model.ItemID) (bool, error) {
	if t.added[id] {
		return true, nil
	}
	if t.removed[id] {
		return false, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.owned[t.player.ID][id]
	return ok, nil
}

func (t *memTx) RecordPurchase(ctx context.Context, id model.ItemID) error {
	if _, err := t.s.PriceOf(ctx, id); err != nil {
		return err
	}
	owns, _ := t.Owns(ctx, id)
	if owns {
		return model.ErrAlreadyOwned
	}
	if t.removed[id] {
		delete(t.removed, id)
		return nil
	}
	t.added[id] = true
	return nil
}

func (t *memTx) RemoveOwnership(ctx context.Context, id model.ItemID) error {
	owns, _ := t.Owns(ctx, id)
	if !owns {
		return model.ErrNotOwned
	}
	if t.added[id] {
		delete(t.added, id)
		return nil
	}
	t.removed[id] = true
	return nil
}

func (t *memTx) SetBalance(ctx context.Context, credits int64) error {
	t.player.Credits = credits
	return nil
}
