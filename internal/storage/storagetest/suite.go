// Package storagetest holds the behavioural suite every ledger backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/creditshop-go/internal/catalog"
	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/dependencies/mocks"
	"github.com/mcoot/creditshop-go/internal/model"
	"github.com/mcoot/creditshop-go/internal/storage"
)

// Suite runs the shared ledger tests against the backend built by New
type Suite struct {
	suite.Suite

	// New returns an empty store; it is called once per test
	New func(t *testing.T, clk clock.Clock) storage.Storage

	Store storage.Storage
	Clock *mocks.MockClock
	Ctx   context.Context
}

var errAbort = errors.New("abort")

func (s *Suite) SetupTest() {
	s.Clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.Store = s.New(s.T(), s.Clock)
	s.Ctx = context.Background()
	s.Require().NoError(s.Store.SeedCatalog(s.Ctx, catalog.Default()))
}

func (s *Suite) TearDownTest() {
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

func (s *Suite) createPlayer(nickname string, credits int64) *model.Player {
	p, err := s.Store.CreatePlayer(s.Ctx, nickname, credits)
	s.Require().NoError(err)
	return p
}

func (s *Suite) buy(id model.PlayerID, itemID model.ItemID, newBalance int64) error {
	return s.Store.UpdatePlayer(s.Ctx, id, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.RecordPurchase(ctx, itemID); err != nil {
			return err
		}
		return tx.SetBalance(ctx, newBalance)
	})
}

// Player tests

func (s *Suite) TestCreateAndGetPlayer() {
	created := s.createPlayer("alice", 500)
	s.NotZero(created.ID)
	s.Equal("alice", created.Nickname)
	s.Equal(int64(500), created.Credits)
	s.True(created.CreatedAt.Equal(s.Clock.Now()))

	byID, err := s.Store.GetPlayer(s.Ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.Nickname, byID.Nickname)
	s.Equal(created.Credits, byID.Credits)

	byName, err := s.Store.GetPlayerByNickname(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(created.ID, byName.ID)
}

func (s *Suite) TestCreatePlayerDuplicateNickname() {
	s.createPlayer("alice", 500)
	_, err := s.Store.CreatePlayer(s.Ctx, "alice", 500)
	s.ErrorIs(err, model.ErrDuplicateNickname)
}

func (s *Suite) TestPlayerIDsAreDistinct() {
	a := s.createPlayer("alice", 500)
	b := s.createPlayer("bob", 500)
	s.NotEqual(a.ID, b.ID)
}

func (s *Suite) TestGetPlayerNotFound() {
	_, err := s.Store.GetPlayer(s.Ctx, 404)
	s.ErrorIs(err, model.ErrPlayerNotFound)

	_, err = s.Store.GetPlayerByNickname(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	_, err = s.Store.GetCredits(s.Ctx, 404)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestGetCredits() {
	p := s.createPlayer("alice", 321)
	credits, err := s.Store.GetCredits(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(321), credits)
}

// Catalog tests

func (s *Suite) TestListCatalogOrderedByID() {
	items, err := s.Store.ListCatalog(s.Ctx)
	s.Require().NoError(err)
	s.Equal(catalog.Default(), items)
}

func (s *Suite) TestSeedCatalogOnlyOnce() {
	err := s.Store.SeedCatalog(s.Ctx, []model.Item{{ID: 1, Name: "other", Price: 1}})
	s.Require().NoError(err)

	items, err := s.Store.ListCatalog(s.Ctx)
	s.Require().NoError(err)
	s.Len(items, len(catalog.Default()))
	s.Equal("galeon", items[0].Name)
}

func (s *Suite) TestPriceOf() {
	price, err := s.Store.PriceOf(s.Ctx, 2)
	s.Require().NoError(err)
	s.Equal(int64(150), price)

	_, err = s.Store.PriceOf(s.Ctx, 999)
	s.ErrorIs(err, model.ErrItemNotFound)
}

// Ownership tests

func (s *Suite) TestListPurchasableExcludesOwned() {
	p := s.createPlayer("alice", 500)
	s.Require().NoError(s.buy(p.ID, 3, 450))

	items, err := s.Store.ListPurchasable(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Len(items, len(catalog.Default())-1)
	for _, item := range items {
		s.NotEqual(model.ItemID(3), item.ID)
	}
}

func (s *Suite) TestListOwnedIncludesCredits() {
	p := s.createPlayer("alice", 500)
	s.Require().NoError(s.buy(p.ID, 3, 450))

	inv, err := s.Store.ListOwned(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(450), inv.Credits)
	s.Require().Len(inv.Items, 1)
	s.Equal("pistol", inv.Items[0].Name)
}

func (s *Suite) TestListOwnedEmpty() {
	p := s.createPlayer("alice", 500)
	inv, err := s.Store.ListOwned(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(inv.Items)
	s.Equal(int64(500), inv.Credits)
}

func (s *Suite) TestListingsUnknownPlayer() {
	_, err := s.Store.ListPurchasable(s.Ctx, 404)
	s.ErrorIs(err, model.ErrPlayerNotFound)

	_, err = s.Store.ListOwned(s.Ctx, 404)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestOwnershipIsPerPlayer() {
	a := s.createPlayer("alice", 500)
	b := s.createPlayer("bob", 500)
	s.Require().NoError(s.buy(a.ID, 1, 100))

	inv, err := s.Store.ListOwned(s.Ctx, b.ID)
	s.Require().NoError(err)
	s.Empty(inv.Items)
}

// Transaction tests

func (s *Suite) TestUpdatePlayerCommits() {
	p := s.createPlayer("alice", 500)
	s.Require().NoError(s.buy(p.ID, 5, 440))

	credits, err := s.Store.GetCredits(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(440), credits)
}

func (s *Suite) TestUpdatePlayerRollsBackOnError() {
	p := s.createPlayer("alice", 500)

	err := s.Store.UpdatePlayer(s.Ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.RecordPurchase(ctx, 1); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, 100); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	inv, err := s.Store.ListOwned(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(inv.Items)
	s.Equal(int64(500), inv.Credits)
}

func (s *Suite) TestUpdatePlayerUnknownPlayer() {
	called := false
	err := s.Store.UpdatePlayer(s.Ctx, 404, func(ctx context.Context, tx storage.Tx) error {
		called = true
		return nil
	})
	s.ErrorIs(err, model.ErrPlayerNotFound)
	s.False(called)
}

func (s *Suite) TestTxSeesOwnWrites() {
	p := s.createPlayer("alice", 500)

	err := s.Store.UpdatePlayer(s.Ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
		s.Require().NoError(tx.RecordPurchase(ctx, 2))
		s.Require().NoError(tx.SetBalance(ctx, 350))

		owns, err := tx.Owns(ctx, 2)
		s.Require().NoError(err)
		s.True(owns)

		player, err := tx.Player(ctx)
		s.Require().NoError(err)
		s.Equal(int64(350), player.Credits)
		return nil
	})
	s.Require().NoError(err)
}

func (s *Suite) TestRecordPurchaseAlreadyOwned() {
	p := s.createPlayer("alice", 500)
	s.Require().NoError(s.buy(p.ID, 4, 460))

	err := s.buy(p.ID, 4, 420)
	s.ErrorIs(err, model.ErrAlreadyOwned)

	credits, err := s.Store.GetCredits(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(460), credits)
}

func (s *Suite) TestRecordPurchaseUnknownItem() {
	p := s.createPlayer("alice", 500)
	err := s.buy(p.ID, 999, 0)
	s.ErrorIs(err, model.ErrItemNotFound)
}

func (s *Suite) TestRemoveOwnership() {
	p := s.createPlayer("alice", 500)
	s.Require().NoError(s.buy(p.ID, 4, 460))

	err := s.Store.UpdatePlayer(s.Ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
		return tx.RemoveOwnership(ctx, 4)
	})
	s.Require().NoError(err)

	inv, err := s.Store.ListOwned(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(inv.Items)
}

func (s *Suite) TestRemoveOwnershipNotOwned() {
	p := s.createPlayer("alice", 500)
	err := s.Store.UpdatePlayer(s.Ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
		return tx.RemoveOwnership(ctx, 4)
	})
	s.ErrorIs(err, model.ErrNotOwned)
}

// Concurrency tests

func (s *Suite) TestConcurrentUpdatesSamePlayerSerialize() {
	p := s.createPlayer("alice", 0)
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Store.UpdatePlayer(s.Ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
				player, err := tx.Player(ctx)
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, player.Credits+1)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	credits, err := s.Store.GetCredits(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(workers), credits)
}

func (s *Suite) TestConcurrentPurchasesDifferentPlayers() {
	a := s.createPlayer("alice", 500)
	b := s.createPlayer("bob", 500)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = s.buy(a.ID, 1, 100) }()
	go func() { defer wg.Done(); errB = s.buy(b.ID, 1, 100) }()
	wg.Wait()

	s.Require().NoError(errA)
	s.Require().NoError(errB)
	for _, id := range []model.PlayerID{a.ID, b.ID} {
		inv, err := s.Store.ListOwned(s.Ctx, id)
		s.Require().NoError(err)
		s.Len(inv.Items, 1)
		s.Equal(int64(100), inv.Credits)
	}
}
