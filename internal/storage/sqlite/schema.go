package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mcoot/creditshop-go/internal/model"
)

func initPragmas(ctx context.Context, db *sqlx.DB) error {
	// WAL keeps readers off the writer's back; foreign keys guard ownership rows.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY,
			nickname VARCHAR(20) NOT NULL UNIQUE,
			credits INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			price INTEGER NOT NULL,
			description TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS player_items (
			trans_id INTEGER PRIMARY KEY,
			player_id INTEGER NOT NULL,
			item_id INTEGER NOT NULL,
			acquired_at INTEGER NOT NULL,
			UNIQUE (player_id, item_id),
			FOREIGN KEY (player_id) REFERENCES players(id),
			FOREIGN KEY (item_id) REFERENCES items(id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const (
	selectPlayerByID       = `SELECT id, nickname, credits, created_at FROM players WHERE id = ?`
	selectPlayerByNickname = `SELECT id, nickname, credits, created_at FROM players WHERE nickname = ?`
	insertPlayer           = `INSERT INTO players (nickname, credits, created_at) VALUES (?, ?, ?)`
	updateCredits          = `UPDATE players SET credits = ? WHERE id = ?`

	countItems  = `SELECT COUNT(*) FROM items`
	insertItem  = `INSERT INTO items (id, name, price, description) VALUES (?, ?, ?, ?)`
	selectItems = `SELECT id, name, price, description FROM items ORDER BY id`
	selectPrice = `SELECT price FROM items WHERE id = ?`

	selectUnowned = `SELECT id, name, price, description FROM items
		WHERE id NOT IN (SELECT item_id FROM player_items WHERE player_id = ?)
		ORDER BY id`
	selectOwned = `SELECT id, name, price, description FROM items
		WHERE id IN (SELECT item_id FROM player_items WHERE player_id = ?)
		ORDER BY id`

	countOwnership  = `SELECT COUNT(*) FROM player_items WHERE player_id = ? AND item_id = ?`
	insertOwnership = `INSERT INTO player_items (player_id, item_id, acquired_at) VALUES (?, ?, ?)`
	deleteOwnership = `DELETE FROM player_items WHERE player_id = ? AND item_id = ?`
)

type playerRow struct {
	ID        int64  `db:"id"`
	Nickname  string `db:"nickname"`
	Credits   int64  `db:"credits"`
	CreatedAt int64  `db:"created_at"`
}

func (r playerRow) toModel() *model.Player {
	return &model.Player{
		ID:        model.PlayerID(r.ID),
		Nickname:  r.Nickname,
		Credits:   r.Credits,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
}

type itemRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Price       int64          `db:"price"`
	Description sql.NullString `db:"description"`
}

func itemsFromRows(rows []itemRow) []model.Item {
	items := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.Item{
			ID:          model.ItemID(r.ID),
			Name:        r.Name,
			Price:       r.Price,
			Description: r.Description.String,
		})
	}
	return items
}
