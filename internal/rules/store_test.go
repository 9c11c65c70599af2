package rules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dmarket_sync/internal/core"
	"dmarket_sync/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	s, err := NewStore(filepath.Join(t.TempDir(), "rules.json"), logger)
	require.NoError(t, err)
	return s
}

func mustRule(item, phase, float, seed, min, max string) core.PriceRule {
	return core.PriceRule{
		Item:  item,
		Attrs: core.Attributes{Phase: phase, FloatBucket: float, PaintSeed: seed},
		Min:   decimal.RequireFromString(min),
		Max:   decimal.RequireFromString(max),
	}
}

func TestResolve_NoMatchIsUnbounded(t *testing.T) {
	s := newTestStore(t)
	bounds := s.Resolve("AK-47 | Redline (Field-Tested)", core.Attributes{})
	assert.True(t, bounds.Unbounded)
}

func TestResolve_MostSpecificWins(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(mustRule("Karambit | Doppler (Factory New)", "", "", "", "5", "50")))
	require.NoError(t, s.Upsert(mustRule("Karambit | Doppler (Factory New)", "Phase 2", "", "", "10", "100")))

	// target with the phase trait hits the phase-specific rule
	bounds := s.Resolve("Karambit | Doppler (Factory New)", core.Attributes{Phase: "Phase 2"})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("100")))

	// target without it falls back to the wildcard rule
	bounds = s.Resolve("Karambit | Doppler (Factory New)", core.Attributes{})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("50")))
}

func TestResolve_WildcardTraitsDoNotConstrain(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(mustRule("AK-47 | Case Hardened (Field-Tested)", "", "", "661", "100", "900")))

	bounds := s.Resolve("AK-47 | Case Hardened (Field-Tested)", core.Attributes{PaintSeed: "661", FloatBucket: "0.2"})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("900")))

	// different seed does not match the seed-specific rule
	bounds = s.Resolve("AK-47 | Case Hardened (Field-Tested)", core.Attributes{PaintSeed: "670"})
	assert.True(t, bounds.Unbounded)
}

func TestResolve_TieGoesToMostRecent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(mustRule("M4A4 | Howl (Minimal Wear)", "", "0.1", "", "1", "10")))
	require.NoError(t, s.Upsert(mustRule("M4A4 | Howl (Minimal Wear)", "", "", "42", "2", "20")))

	bounds := s.Resolve("M4A4 | Howl (Minimal Wear)", core.Attributes{FloatBucket: "0.1", PaintSeed: "42"})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("20")))
}

func TestEnsureDefault(t *testing.T) {
	s := newTestStore(t)

	added, err := s.EnsureDefault("AWP | Dragon Lore (Field-Tested)", core.Attributes{},
		decimal.RequireFromString("30"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, added)

	// second call is a no-op
	added, err = s.EnsureDefault("AWP | Dragon Lore (Field-Tested)", core.Attributes{},
		decimal.RequireFromString("99"), decimal.Zero)
	require.NoError(t, err)
	assert.False(t, added)

	bounds := s.Resolve("AWP | Dragon Lore (Field-Tested)", core.Attributes{})
	require.False(t, bounds.Unbounded)
	assert.True(t, bounds.Max.Equal(decimal.RequireFromString("30")))
	assert.True(t, bounds.Min.IsZero())
}

func TestUpsert_ReplacesExactAttributeMatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(mustRule("Glock-18 | Fade (Factory New)", "", "", "", "1", "10")))
	require.NoError(t, s.Upsert(mustRule("Glock-18 | Fade (Factory New)", "", "", "", "2", "20")))

	all := s.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].Max.Equal(decimal.RequireFromString("20")))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(mustRule("Glock-18 | Fade (Factory New)", "", "", "", "1", "10")))

	removed, err := s.Delete("Glock-18 | Fade (Factory New)", core.Attributes{})
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete("Glock-18 | Fade (Factory New)", core.Attributes{})
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, s.All())
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	s1, err := NewStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(mustRule("AK-47 | Redline (Field-Tested)", "", "", "", "5", "50")))
	require.NoError(t, s1.Upsert(mustRule("Karambit | Doppler (Factory New)", "Phase 2", "", "", "100", "1200")))

	s2, err := NewStore(path, logger)
	require.NoError(t, err)
	assert.Equal(t, s1.All(), s2.All())
	assert.Equal(t, []string{
		"AK-47 | Redline (Field-Tested)",
		"Karambit | Doppler (Factory New)",
	}, s2.Items())

	// on-disk shape stays hand-editable
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "AK-47 | Redline (Field-Tested)", records[0]["item"])
	assert.NotContains(t, records[0], "phase")
	assert.Equal(t, "Phase 2", records[1]["phase"])
}

func TestNewStore_BadFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"item":"x","minPrice":"oops","maxPrice":"1"}]`), 0o644))

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	_, err = NewStore(path, logger)
	require.Error(t, err)
}
