package factory

import (
	"context"
	"time"

	"github.com/mcoot/creditshop-go/internal/catalog"
	"github.com/mcoot/creditshop-go/internal/config"
	"github.com/mcoot/creditshop-go/internal/dependencies/mocks"
	"github.com/mcoot/creditshop-go/internal/storage/memory"
	"github.com/mcoot/creditshop-go/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App on an in-memory ledger seeded with the default
// catalog, with mocked time and randomness. The listener binds an
// ephemeral port and the standalone HTTP server is disabled.
func NewTestApp() *TestApp {
	cfg := config.Default()
	cfg.Storage.Type = config.StorageMemory
	cfg.Listen.Port = 0
	cfg.Listen.ShutdownTimeout = time.Second
	cfg.HTTP.Port = 0

	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	store := memory.New(mockClock)
	// The memory store cannot fail to seed a valid catalog
	_ = store.SeedCatalog(context.Background(), catalog.Default())

	app := newWithDependencies(cfg, store, mockClock, mockRandom, testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
