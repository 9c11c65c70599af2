package e2e

import (
	"path/filepath"
	"testing"
	"time"

	"dmarket_sync/internal/alert"
	"dmarket_sync/internal/config"
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/items"
	"dmarket_sync/internal/mock"
	"dmarket_sync/internal/recorder"
	"dmarket_sync/internal/registry"
	"dmarket_sync/internal/rules"
	"dmarket_sync/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness runs one instance end to end against an in-memory marketplace
// through the registry's public surface.
type harness struct {
	registry *registry.Registry
	rules    *rules.Store
	market   *mock.Marketplace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := rules.NewStore(filepath.Join(dir, "rules.json"), logger)
	require.NoError(t, err)

	market := mock.NewMarketplace()
	factory := func(core.InstanceConfig, core.ILogger) (core.IMarketplace, error) {
		return market, nil
	}

	reg := registry.New(filepath.Join(dir, "instances.json"), config.DefaultConfig().Defaults,
		factory, store, items.NewSet(), recorder.Noop{}, alert.NewManager(logger), logger)

	require.NoError(t, reg.Add("bot-a", core.InstanceConfig{
		PublicKey:     "pub",
		SecretKey:     config.Secret("secret"),
		CheckInterval: 1,
	}))

	t.Cleanup(reg.StopAll)
	return &harness{registry: reg, rules: store, market: market}
}

func (h *harness) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.NoError(t, h.registry.Start("bot-a"))
	require.Eventually(t, cond, 10*time.Second, 50*time.Millisecond)
	require.NoError(t, h.registry.Stop("bot-a"))
}

func TestOutbidsTopCompetingOrderWithinBounds(t *testing.T) {
	h := newHarness(t)

	h.market.AddTarget(core.Target{
		ID:     "t1",
		Title:  "AK-47 | Redline (Field-Tested)",
		Amount: "1",
		Price:  decimal.RequireFromString("10"),
	})
	h.market.SetOrders("AK-47 | Redline (Field-Tested)", []core.CompetingOrder{
		{Price: decimal.RequireFromString("9.50")},
		{Price: decimal.RequireFromString("10.20")},
	})
	require.NoError(t, h.rules.Upsert(core.PriceRule{
		Item: "AK-47 | Redline (Field-Tested)",
		Min:  decimal.RequireFromString("5"),
		Max:  decimal.RequireFromString("50"),
	}))

	h.runUntil(t, func() bool { return h.market.CreatedCount() > 0 })

	require.Len(t, h.market.Created, 1)
	assert.Equal(t, []string{"t1"}, h.market.Deleted)
	assert.True(t, h.market.Created[0].Price.Equal(decimal.RequireFromString("10.21")),
		"got %s", h.market.Created[0].Price)
}

func TestUnknownItemGetsDefaultRuleAndRepricesWithIt(t *testing.T) {
	h := newHarness(t)

	h.market.AddTarget(core.Target{
		ID:     "t1",
		Title:  "AWP | Asiimov (Field-Tested)",
		Amount: "1",
		Price:  decimal.RequireFromString("20"),
	})
	h.market.SetOrders("AWP | Asiimov (Field-Tested)", []core.CompetingOrder{
		{Price: decimal.RequireFromString("19")},
	})

	h.runUntil(t, func() bool { return h.market.CreatedCount() > 0 })

	// the generated default rule (0 .. 1.5x price) governs the same cycle
	bounds := h.rules.Resolve("AWP | Asiimov (Field-Tested)", core.Attributes{})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("30")), "got %s", bounds.Max)
	assert.True(t, bounds.Min.IsZero())

	assert.Equal(t, []string{"t1"}, h.market.Deleted)
	require.Len(t, h.market.Created, 1)
	assert.True(t, h.market.Created[0].Price.Equal(decimal.RequireFromString("19.01")),
		"got %s", h.market.Created[0].Price)
}

func TestOptimalPriceClampedToRuleMaximum(t *testing.T) {
	h := newHarness(t)

	h.market.AddTarget(core.Target{
		ID:     "t1",
		Title:  "AK-47 | Redline (Field-Tested)",
		Amount: "1",
		Price:  decimal.RequireFromString("49"),
	})
	h.market.SetOrders("AK-47 | Redline (Field-Tested)", []core.CompetingOrder{
		{Price: decimal.RequireFromString("54.99")},
	})
	require.NoError(t, h.rules.Upsert(core.PriceRule{
		Item: "AK-47 | Redline (Field-Tested)",
		Min:  decimal.RequireFromString("5"),
		Max:  decimal.RequireFromString("50"),
	}))

	h.runUntil(t, func() bool { return h.market.CreatedCount() > 0 })

	require.Len(t, h.market.Created, 1)
	assert.True(t, h.market.Created[0].Price.Equal(decimal.RequireFromString("50")),
		"got %s", h.market.Created[0].Price)
}
