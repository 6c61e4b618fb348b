package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/storage"
)

// Config holds the location of the ledger database
type Config struct {
	// Path is the database file; parent directories are created on open
	Path string
}

// DefaultConfig returns the default database location
func DefaultConfig() Config {
	return Config{Path: "game_storage.sqlite3"}
}

// Storage is a SQLite-backed implementation of the storage interface.
// The pool holds a single connection, so every transaction is the only
// writer and per-player read-modify-write sequences cannot interleave.
type Storage struct {
	db    *sqlx.DB
	clock clock.Clock
}

// Open opens (creating if needed) the database at cfg.Path
func Open(ctx context.Context, cfg Config, clk clock.Clock) (*Storage, error) {
	if cfg.Path == "" {
		return nil, errors.New("empty db path")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return NewWithDB(db, clk), nil
}

// NewWithDB wraps an already-initialised database (for testing)
func NewWithDB(db *sqlx.DB, clk clock.Clock) *Storage {
	if clk == nil {
		clk = clock.New()
	}
	return &Storage{db: db, clock: clk}
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return getPlayer(ctx, s.db, selectPlayerByID, int64(id))
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	return getPlayer(ctx, s.db, selectPlayerByNickname, nickname)
}

func (s *Storage) CreatePlayer(ctx context.Context, nickname string, credits int64) (*model.Player, error) {
	var created *model.Player
	err := s.inTx(ctx, "create player", func(tx *sqlx.Tx) error {
		if _, err := getPlayer(ctx, tx, selectPlayerByNickname, nickname); err == nil {
			return model.ErrDuplicateNickname
		} else if !errors.Is(err, model.ErrPlayerNotFound) {
			return err
		}

		now := s.clock.Now()
		res, err := tx.ExecContext(ctx, insertPlayer, nickname, credits, now.Unix())
		if err != nil {
			return model.NewStorageError("insert player", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.NewStorageError("insert player", err)
		}
		created = &model.Player{
			ID:        model.PlayerID(id),
			Nickname:  nickname,
			Credits:   credits,
			CreatedAt: now.UTC(),
		}
		return nil
	})
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
	return s.inTx(ctx, "seed catalog", func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, countItems); err != nil {
			return model.NewStorageError("count items", err)
		}
		if count > 0 {
			return nil
		}
		for _, item := range items {
			desc := sql.NullString{String: item.Description, Valid: item.Description != ""}
			if _, err := tx.ExecContext(ctx, insertItem, int64(item.ID), item.Name, item.Price, desc); err != nil {
				return model.NewStorageError("insert item", err)
			}
		}
		return nil
	})
}

func (s *Storage) ListCatalog(ctx context.Context) ([]model.Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, selectItems); err != nil {
		return nil, model.NewStorageError("list catalog", err)
	}
	return itemsFromRows(rows), nil
}

func (s *Storage) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	return priceOf(ctx, s.db, id)
}

// Ownership views

func (s *Storage) ListPurchasable(ctx context.Context, id model.PlayerID) ([]model.Item, error) {
	var items []model.Item
	err := s.inTx(ctx, "list purchasable", func(tx *sqlx.Tx) error {
		if _, err := getPlayer(ctx, tx, selectPlayerByID, int64(id)); err != nil {
			return err
		}
		var rows []itemRow
		if err := tx.SelectContext(ctx, &rows, selectUnowned, int64(id)); err != nil {
			return model.NewStorageError("list purchasable", err)
		}
		items = itemsFromRows(rows)
		return nil
	})
	return items, err
}

func (s *Storage) ListOwned(ctx context.Context, id model.PlayerID) (*model.Inventory, error) {
	var inv *model.Inventory
	err := s.inTx(ctx, "list owned", func(tx *sqlx.Tx) error {
		p, err := getPlayer(ctx, tx, selectPlayerByID, int64(id))
		if err != nil {
			return err
		}
		var rows []itemRow
		if err := tx.SelectContext(ctx, &rows, selectOwned, int64(id)); err != nil {
			return model.NewStorageError("list owned", err)
		}
		inv = &model.Inventory{Items: itemsFromRows(rows), Credits: p.Credits}
		return nil
	})
	return inv, err
}

// Transactions

func (s *Storage) UpdatePlayer(ctx context.Context, id model.PlayerID, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.inTx(ctx, "update player", func(tx *sqlx.Tx) error {
		p, err := getPlayer(ctx, tx, selectPlayerByID, int64(id))
		if err != nil {
			return err
		}
		return fn(ctx, &sqlTx{tx: tx, player: *p, clock: s.clock})
	})
}

// inTx runs fn in a transaction, rolling back unless fn succeeds and the
// commit goes through
func (s *Storage) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.NewStorageError(op+": begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.NewStorageError(op+": commit", err)
	}
	return nil
}

// sqlTx is the storage.Tx view of an open SQL transaction
type sqlTx struct {
	tx     *sqlx.Tx
	player model.Player
	clock  clock.Clock
}

func (t *sqlTx) Player(ctx context.Context) (*model.Player, error) {
	cp := t.player
	return &cp, nil
}

func (t *sqlTx) PriceOf(ctx context.Context, id model.ItemID) (int64, error) {
	return priceOf(ctx, t.tx, id)
}

func (t *sqlTx) Owns(ctx context.Context, id model.ItemID) (bool, error) {
	var count int
	if err := t.tx.GetContext(ctx, &count, countOwnership, int64(t.player.ID), int64(id)); err != nil {
		return false, model.NewStorageError("count ownership", err)
	}
	return count > 0, nil
}

func (t *sqlTx) RecordPurchase(ctx context.Context, id model.ItemID) error {
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
	_, err = t.tx.ExecContext(ctx, insertOwnership, int64(t.player.ID), int64(id), t.clock.Now().Unix())
	return model.NewStorageError("insert ownership", err)
}

func (t *sqlTx) RemoveOwnership(ctx context.Context, id model.ItemID) error {
	res, err := t.tx.ExecContext(ctx, deleteOwnership, int64(t.player.ID), int64(id))
	if err != nil {
		return model.NewStorageError("delete ownership", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("delete ownership", err)
	}
	if n == 0 {
		return model.ErrNotOwned
	}
	return nil
}

func (t *sqlTx) SetBalance(ctx context.Context, credits int64) error {
	res, err := t.tx.ExecContext(ctx, updateCredits, credits, int64(t.player.ID))
	if err != nil {
		return model.NewStorageError("set balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("set balance", err)
	}
	if n == 0 {
		return model.ErrPlayerNotFound
	}
	t.player.Credits = credits
	return nil
}

// Shared query helpers, usable with either the pool or an open transaction

func getPlayer(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (*model.Player, error) {
	var row playerRow
	if err := sqlx.GetContext(ctx, q, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, model.NewStorageError("get player", err)
	}
	return row.toModel(), nil
}

func priceOf(ctx context.Context, q sqlx.QueryerContext, id model.ItemID) (int64, error) {
	var price int64
	if err := sqlx.GetContext(ctx, q, &price, selectPrice, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, model.ErrItemNotFound
		}
		return 0, model.NewStorageError("price of", err)
	}
	return price, nil
}
