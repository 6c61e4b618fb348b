// Package economy applies the shop's balance-affecting operations against the
// ledger. Every mutation runs inside one storage.UpdatePlayer transaction.
package economy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcoot/creditshop-go/internal/dependencies/random"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/storage"
)

// Config holds the tunable economy rules
type Config struct {
	// StartingCredits is the balance a new player is created with
	StartingCredits int64
	// WinPercent is the threshold a draw in [1, 100] must fall below to win
	WinPercent int
	// CreditFloor is the lowest balance a lost bet can leave
	CreditFloor int64
}

// DefaultConfig returns the stock economy rules
func DefaultConfig() Config {
	return Config{
		StartingCredits: 500,
		WinPercent:      80,
		CreditFloor:     50,
	}
}

// Service implements login, listings, buy, sell and wager
type Service struct {
	storage storage.Storage
	random  random.Random
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a new economy Service. m may be nil.
func New(storage storage.Storage, random random.Random, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		storage: storage,
		random:  random,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Config returns the rules the service was built with
func (s *Service) Config() Config {
	return s.cfg
}

// Login returns the player with the given nickname, creating it with the
// starting balance if it does not exist yet
func (s *Service) Login(ctx context.Context, nickname string) (p *model.Player, err error) {
	defer s.observe("login", time.Now(), &err)

	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > model.MaxNicknameLength {
		return nil, model.ErrInvalidNickname
	}

	p, err = s.storage.GetPlayerByNickname(ctx, nickname)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrPlayerNotFound) {
		return nil, err
	}

	p, err = s.storage.CreatePlayer(ctx, nickname, s.cfg.StartingCredits)
	if errors.Is(err, model.ErrDuplicateNickname) {
		// Another session created it between our lookup and insert
		return s.storage.GetPlayerByNickname(ctx, nickname)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("player created",
		slog.Int64("player_id", int64(p.ID)),
		slog.String("nickname", p.Nickname),
		slog.Int64("credits", p.Credits),
	)
	return p, nil
}

// Player looks up a player by id
func (s *Service) Player(ctx context.Context, playerID model.PlayerID) (p *model.Player, err error) {
	defer s.observe("player", time.Now(), &err)
	return s.storage.GetPlayer(ctx, playerID)
}

// Catalog lists every item in the shop, owned or not
func (s *Service) Catalog(ctx context.Context) (items []model.Item, err error) {
	defer s.observe("catalog", time.Now(), &err)
	return s.storage.ListCatalog(ctx)
}

// Items lists the catalog items the player does not own
func (s *Service) Items(ctx context.Context, playerID model.PlayerID) (items []model.Item, err error) {
	defer s.observe("items", time.Now(), &err)
	return s.storage.ListPurchasable(ctx, playerID)
}

// Inventory lists the items the player owns together with the balance
func (s *Service) Inventory(ctx context.Context, playerID model.PlayerID) (inv *model.Inventory, err error) {
	defer s.observe("inventory", time.Now(), &err)
	return s.storage.ListOwned(ctx, playerID)
}

// Credits returns the player's balance
func (s *Service) Credits(ctx context.Context, playerID model.PlayerID) (credits int64, err error) {
	defer s.observe("credits", time.Now(), &err)
	return s.storage.GetCredits(ctx, playerID)
}

// Buy debits the item's price and records ownership. It returns the new
// balance.
func (s *Service) Buy(ctx context.Context, playerID model.PlayerID, itemID model.ItemID) (balance int64, err error) {
	defer s.observe("buy", time.Now(), &err)

	err = s.storage.UpdatePlayer(ctx, playerID, func(ctx context.Context, tx storage.Tx) error {
		player, err := tx.Player(ctx)
		if err != nil {
			return err
		}
		price, err := tx.PriceOf(ctx, itemID)
		if err != nil {
			return err
		}
		owns, err := tx.Owns(ctx, itemID)
		if err != nil {
			return err
		}
		if owns {
			return model.ErrAlreadyOwned
		}

		balance = player.Credits - price
		if balance < 0 {
			return model.ErrInsufficientFunds
		}
		if err := tx.RecordPurchase(ctx, itemID); err != nil {
			return err
		}
		return tx.SetBalance(ctx, balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Sell removes ownership and credits the item's price back. It returns the
// new balance.
func (s *Service) Sell(ctx context.Context, playerID model.PlayerID, itemID model.ItemID) (balance int64, err error) {
	defer s.observe("sell", time.Now(), &err)

	err = s.storage.UpdatePlayer(ctx, playerID, func(ctx context.Context, tx storage.Tx) error {
		player, err := tx.Player(ctx)
		if err != nil {
			return err
		}
		owns, err := tx.Owns(ctx, itemID)
		if err != nil {
			return err
		}
		if !owns {
			return model.ErrNotOwned
		}
		price, err := tx.PriceOf(ctx, itemID)
		if err != nil {
			return err
		}

		balance, err = credit(player.Credits, price)
		if err != nil {
			return err
		}
		if err := tx.RemoveOwnership(ctx, itemID); err != nil {
			return err
		}
		return tx.SetBalance(ctx, balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Wager settles one bet. A draw below WinPercent wins the bet; a loss
// deducts it but never below CreditFloor. The balance is written either way.
func (s *Service) Wager(ctx context.Context, playerID model.PlayerID, bet int64) (result *model.WagerResult, err error) {
	defer s.observe("wager", time.Now(), &err)

	if bet <= 0 {
		return nil, model.ErrInvalidBet
	}
	// Drawn outside the transaction so a retried transaction settles the same draw
	draw := random.Percent(s.random)

	err = s.storage.UpdatePlayer(ctx, playerID, func(ctx context.Context, tx storage.Tx) error {
		player, err := tx.Player(ctx)
		if err != nil {
			return err
		}
		if bet > player.Credits {
			return model.ErrInsufficientFunds
		}

		res := &model.WagerResult{Bet: bet, Draw: draw, Won: draw < s.cfg.WinPercent}
		if res.Won {
			if res.Credits, err = credit(player.Credits, bet); err != nil {
				return err
			}
		} else {
			res.Credits = max(player.Credits-bet, s.cfg.CreditFloor)
		}
		if err := tx.SetBalance(ctx, res.Credits); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("wager settled",
		slog.Int64("player_id", int64(playerID)),
		slog.Int64("bet", bet),
		slog.Int("draw", draw),
		slog.Bool("won", result.Won),
		slog.Int64("credits", result.Credits),
	)
	return result, nil
}

// credit adds amount (never negative) to balance
func credit(balance, amount int64) (int64, error) {
	if balance > math.MaxInt64-amount {
		return 0, model.ErrBalanceOverflow
	}
	return balance + amount, nil
}

// observe records the outcome of an operation. Storage failures are logged
// here; rule violations are expected traffic and only counted.
func (s *Service) observe(op string, start time.Time, errp *error) {
	status := string(model.StatusSuccess)
	if err := *errp; err != nil {
		status = string(model.StatusFailed)
		if errors.Is(err, model.ErrStorage) {
			status = "error"
			s.logger.Error("economy operation failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}
	s.metrics.RecordOperation(op, status, time.Since(start))
}
