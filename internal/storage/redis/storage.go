package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/storage"
)

// errTooManyRetries is returned when a watched transaction keeps conflicting
var errTooManyRetries = errors.New("transaction retries exhausted")

// Storage is a Redis-backed implementation of the storage interface.
// Multi-key writes use WATCH/MULTI/EXEC and are retried on conflict.
type Storage struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
}

// New creates a new Redis storage instance
func New(cfg Config, clk clock.Clock) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, cfg, clk), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock) *Storage {
	if clk == nil {
		clk = clock.New()
	}
	return &Storage{
		client: client,
		cfg:    cfg,
		clock:  clk,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

type playerRecord struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

func (r playerRecord) toModel() *model.Player {
	return &model.Player{
		ID:        model.PlayerID(r.ID),
		Nickname:  r.Nickname,
		Credits:   r.Credits,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func recordFromPlayer(p model.Player) playerRecord {
	return playerRecord{ID: int64(p.ID), Nickname: p.Nickname, Credits: p.Credits, CreatedAt: p.CreatedAt}
}

type itemRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description,omitempty"`
}

func itemField(id model.ItemID) string {
	return strconv.FormatInt(int64(id), 10)
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return getPlayer(ctx, s.client, id)
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	idStr, err := s.client.Get(ctx, nicknameIndexKey(nickname)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, model.NewStorageError("get nickname index", err)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, model.NewStorageError("parse nickname index", err)
	}
	return s.GetPlayer(ctx, model.PlayerID(id))
}

func (s *Storage) CreatePlayer(ctx context.Context, nickname string, credits int64) (*model.Player, error) {
	idxKey := nicknameIndexKey(nickname)
	var created *model.Player

	err := s.watch(ctx, "create player", func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, idxKey).Result()
		if err != nil {
			return model.NewStorageError("check nickname", err)
		}
		if exists > 0 {
			return model.ErrDuplicateNickname
		}

		id, err := tx.Incr(ctx, playerSeqKey()).Result()
		if err != nil {
			return model.NewStorageError("allocate player id", err)
		}
		p := model.Player{
			ID:        model.PlayerID(id),
			Nickname:  nickname,
			Credits:   credits,
			CreatedAt: s.clock.Now().UTC(),
		}
		data, err := json.Marshal(recordFromPlayer(p))
		if err != nil {
			return model.NewStorageError("encode player", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, playerKey(p.ID), data, 0)
			pipe.Set(ctx, idxKey, id, 0)
			return nil
		})
		if err != nil {
			return execErr("create player", err)
		}
		created = &p
		return nil
	}, idxKey)
	if err != nil {
		return nil, err
	}
	return created, nil
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
	seededKey := catalogSeededKey()
	return s.watch(ctx, "seed catalog", func(tx *redis.Tx) error {
		seeded, err := tx.Exists(ctx, seededKey).Result()
		if err != nil {
			return model.NewStorageError("check catalog", err)
		}
		if seeded > 0 {
			return nil
		}

		fields := make([]interface{}, 0, len(items)*2)
		for _, item := range items {
			data, err := json.Marshal(itemRecord{
				ID:          int64(item.ID),
				Name:        item.Name,
				Price:       item.Price,
				Description: item.Description,
			})
			if err != nil {
				return model.NewStorageError("encode item", err)
			}
			fields = append(fields, itemField(item.ID), data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, catalogKey(), fields...)
			}
			pipe.Set(ctx, seededKey, 1, 0)
			return nil
		})
		return execErr("seed catalog", err)
	}, seededKey)
}

func (s *Storage) ListCatalog(ctx context.Context) ([]model.Item, error) {
	return s.catalog(ctx, func(model.ItemID) bool { return true })
}

func (s *Storage) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	return priceOf(ctx, s.client, id)
}

// catalog returns the items matching keep, ordered by id
func (s *Storage) catalog(ctx context.Context, keep func(model.ItemID) bool) ([]model.Item, error) {
	raw, err := s.client.HGetAll(ctx, catalogKey()).Result()
	if err != nil {
		return nil, model.NewStorageError("list catalog", err)
	}

	items := make([]model.Item, 0, len(raw))
	for _, data := range raw {
		var rec itemRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, model.NewStorageError("decode item", err)
		}
		if !keep(model.ItemID(rec.ID)) {
			continue
		}
		items = append(items, model.Item{
			ID:          model.ItemID(rec.ID),
			Name:        rec.Name,
			Price:       rec.Price,
			Description: rec.Description,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Ownership views

func (s *Storage) ListPurchasable(ctx context.Context, id model.PlayerID) ([]model.Item, error) {
	if _, err := s.GetPlayer(ctx, id); err != nil {
		return nil, err
	}
	owned, err := s.ownedSet(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.catalog(ctx, func(itemID model.ItemID) bool { return !owned[itemID] })
}

func (s *Storage) ListOwned(ctx context.Context, id model.PlayerID) (*model.Inventory, error) {
	p, err := s.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}
	owned, err := s.ownedSet(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.catalog(ctx, func(itemID model.ItemID) bool { return owned[itemID] })
	if err != nil {
		return nil, err
	}
	return &model.Inventory{Items: items, Credits: p.Credits}, nil
}

func (s *Storage) ownedSet(ctx context.Context, id model.PlayerID) (map[model.ItemID]bool, error) {
	fields, err := s.client.HKeys(ctx, ownedKey(id)).Result()
	if err != nil {
		return nil, model.NewStorageError("list owned", err)
	}
	owned := make(map[model.ItemID]bool, len(fields))
	for _, f := range fields {
		itemID, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, model.NewStorageError("parse owned item", err)
		}
		owned[model.ItemID(itemID)] = true
	}
	return owned, nil
}

// Transactions

// UpdatePlayer watches the player record and ownership hash. fn is re-run
// from a fresh read whenever another writer commits first.
func (s *Storage) UpdatePlayer(ctx context.Context, id model.PlayerID, fn func(ctx context.Context, tx storage.Tx) error) error {
	pKey := playerKey(id)
	oKey := ownedKey(id)

	return s.watch(ctx, "update player", func(tx *redis.Tx) error {
		p, err := getPlayer(ctx, tx, id)
		if err != nil {
			return err
		}

		rtx := &redisTx{
			tx:      tx,
			player:  *p,
			added:   make(map[model.ItemID]bool),
			removed: make(map[model.ItemID]bool),
		}
		if err := fn(ctx, rtx); err != nil {
			return err
		}

		data, err := json.Marshal(recordFromPlayer(rtx.player))
		if err != nil {
			return model.NewStorageError("encode player", err)
		}
		now := s.clock.Now().Unix()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pKey, data, 0)
			for itemID := range rtx.added {
				pipe.HSet(ctx, oKey, itemField(itemID), now)
			}
			for itemID := range rtx.removed {
				pipe.HDel(ctx, oKey, itemField(itemID))
			}
			return nil
		})
		return execErr("update player", err)
	}, pKey, oKey)
}

// watch runs fn under WATCH on keys, retrying when EXEC is aborted by a
// concurrent write. Errors returned by fn pass through unchanged.
func (s *Storage) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	attempts := s.cfg.MaxTxRetries
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		var bodyErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			bodyErr = fn(tx)
			return bodyErr
		}, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case bodyErr != nil:
			return bodyErr
		default:
			return model.NewStorageError(op, err)
		}
	}
	return model.NewStorageError(op, errTooManyRetries)
}

// execErr leaves an aborted EXEC untouched so watch can retry it
func execErr(op string, err error) error {
	if err == nil || errors.Is(err, redis.TxFailedErr) {
		return err
	}
	return model.NewStorageError(op, err)
}

// redisTx stages writes until the EXEC at the end of UpdatePlayer
type redisTx struct {
	tx      *redis.Tx
	player  model.Player
	added   map[model.ItemID]bool
	removed map[model.ItemID]bool
}

func (t *redisTx) Player(ctx context.Context) (*model.Player, error) {
	cp := t.player
	return &cp, nil
}

func (t *redisTx) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	return priceOf(ctx, t.tx, id)
}

func (t *redisTx) Owns(ctx context.Context, id model.ItemID) (bool, error) {
	if t.added[id] {
		return true, nil
	}
	if t.removed[id] {
		return false, nil
	}
	owns, err := t.tx.HExists(ctx, ownedKey(t.player.ID), itemField(id)).Result()
	if err != nil {
		return false, model.NewStorageError("check ownership", err)
	}
	return owns, nil
}

func (t *redisTx) RecordPurchase(ctx context.Context, id model.ItemID) error {
	if _, err := t.PriceOf(ctx, id); err != nil {
		return err
	}
	owns, err := t.Owns(ctx, id)
	if err != nil {
		return err
	}
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

func (t *redisTx) RemoveOwnership(ctx context.Context, id model.ItemID) error {
	owns, err := t.Owns(ctx, id)
	if err != nil {
		return err
	}
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

func (t *redisTx) SetBalance(ctx context.Context, credits int64) error {
	t.player.Credits = credits
	return nil
}

// Shared read helpers, usable with the client or a watched transaction

func getPlayer(ctx context.Context, c redis.Cmdable, id model.PlayerID) (*model.Player, error) {
	data, err := c.Get(ctx, playerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, model.NewStorageError("get player", err)
	}

	var rec playerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, model.NewStorageError("decode player", err)
	}
	return rec.toModel(), nil
}

func priceOf(ctx context.Context, c redis.Cmdable, id model.ItemID) (int64, error) {
	data, err := c.HGet(ctx, catalogKey(), itemField(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, model.ErrItemNotFound
		}
		return 0, model.NewStorageError("price of", err)
	}

	var rec itemRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, model.NewStorageError("decode item", err)
	}
	return rec.Price, nil
}
