package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/storage"
	"github.com/mcoot/creditshop-go/internal/storage/storagetest"
)

func TestStorageSuite(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		New: func(t *testing.T, clk clock.Clock) storage.Storage {
			return New(clk)
		},
	})
}

type LockingSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
}

func TestLockingSuite(t *testing.T) {
	suite.Run(t, new(LockingSuite))
}

func (s *LockingSuite) SetupTest() {
	s.storage = New(nil)
	s.ctx = context.Background()
}

// A long transaction on one player must not delay another player's transaction
func (s *LockingSuite) TestDifferentPlayersDoNotBlock() {
	a, err := s.storage.CreatePlayer(s.ctx, "alice", 10)
	s.Require().NoError(err)
	b, err := s.storage.CreatePlayer(s.ctx, "bob", 10)
	s.Require().NoError(err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.storage.UpdatePlayer(s.ctx, a.ID, func(ctx context.Context, tx storage.Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- s.storage.UpdatePlayer(s.ctx, b.ID, func(ctx context.Context, tx storage.Tx) error {
			return tx.SetBalance(ctx, 20)
		})
	}()

	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("update for a different player was blocked")
	}
	close(release)
	wg.Wait()
}

func (s *LockingSuite) TestCancelledContextDiscardsWrites() {
	p, err := s.storage.CreatePlayer(s.ctx, "alice", 10)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	err = s.storage.UpdatePlayer(ctx, p.ID, func(ctx context.Context, tx storage.Tx) error {
		cancel()
		return tx.SetBalance(ctx, 99)
	})
	s.ErrorIs(err, context.Canceled)

	credits, err := s.storage.GetCredits(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), credits)
}

func (s *LockingSuite) TestReturnedPlayersAreCopies() {
	p, err := s.storage.CreatePlayer(s.ctx, "alice", 10)
	s.Require().NoError(err)
	p.Credits = 1_000_000

	again, err := s.storage.GetPlayer(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), again.Credits)
}
