package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dmarket_sync/internal/alert"
	"dmarket_sync/internal/config"
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/items"
	"dmarket_sync/internal/mock"
	"dmarket_sync/internal/recorder"
	"dmarket_sync/internal/rules"
	"dmarket_sync/internal/worker"
	apperrors "dmarket_sync/pkg/errors"
	"dmarket_sync/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockFactory(cfg core.InstanceConfig, logger core.ILogger) (core.IMarketplace, error) {
	return mock.NewMarketplace(), nil
}

func newTestRegistry(t *testing.T, factory ClientFactory) (*Registry, string) {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := rules.NewStore(filepath.Join(dir, "rules.json"), logger)
	require.NoError(t, err)

	path := filepath.Join(dir, "instances.json")
	r := New(path, config.DefaultConfig().Defaults, factory,
		store, items.NewSet(), recorder.Noop{}, alert.NewManager(logger), logger)
	return r, path
}

func testInstanceConfig() core.InstanceConfig {
	return core.InstanceConfig{
		PublicKey: "pub-key",
		SecretKey: config.Secret("secret-key"),
	}
}

func TestAdd_AppliesDefaultsAndPersists(t *testing.T) {
	r, path := newTestRegistry(t, mockFactory)

	require.NoError(t, r.Add("bot-a", testInstanceConfig()))

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "bot-a", all[0].ID)
	assert.Equal(t, "a8db", all[0].GameID)
	assert.Equal(t, "USD", all[0].Currency)
	assert.Equal(t, 960, all[0].CheckInterval)
	assert.Equal(t, worker.StatusIdle, all[0].Status)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAdd_DuplicateRejected(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)

	require.NoError(t, r.Add("bot-a", testInstanceConfig()))
	err := r.Add("bot-a", testInstanceConfig())
	assert.ErrorIs(t, err, apperrors.ErrInstanceExists)
}

func TestAdd_FactoryFailureRejected(t *testing.T) {
	r, path := newTestRegistry(t, func(core.InstanceConfig, core.ILogger) (core.IMarketplace, error) {
		return nil, errors.New("bad key")
	})

	require.Error(t, r.Add("bot-a", testInstanceConfig()))
	assert.Empty(t, r.All())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)

	require.NoError(t, r.Add("bot-a", testInstanceConfig()))
	require.NoError(t, r.Remove("bot-a"))
	assert.Empty(t, r.All())

	assert.ErrorIs(t, r.Remove("bot-a"), apperrors.ErrInstanceNotFound)
}

func TestLoad_RoundTrip(t *testing.T) {
	r1, path := newTestRegistry(t, mockFactory)
	cfg := testInstanceConfig()
	cfg.GameID = "9a92"
	cfg.CheckInterval = 120
	require.NoError(t, r1.Add("bot-a", cfg))
	require.NoError(t, r1.Add("bot-b", testInstanceConfig()))

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	store, err := rules.NewStore(filepath.Join(t.TempDir(), "rules.json"), logger)
	require.NoError(t, err)

	r2 := New(path, config.DefaultConfig().Defaults, mockFactory,
		store, items.NewSet(), recorder.Noop{}, alert.NewManager(logger), logger)
	require.NoError(t, r2.Load())

	all := r2.All()
	require.Len(t, all, 2)
	assert.Equal(t, "bot-a", all[0].ID)
	assert.Equal(t, "9a92", all[0].GameID)
	assert.Equal(t, 120, all[0].CheckInterval)
	assert.Equal(t, "bot-b", all[1].ID)
	assert.Equal(t, "a8db", all[1].GameID)
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)
	require.NoError(t, r.Load())
	assert.Empty(t, r.All())
}

func TestStartStopStatus(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)
	require.NoError(t, r.Add("bot-a", testInstanceConfig()))

	status, err := r.Status("bot-a")
	require.NoError(t, err)
	assert.Equal(t, worker.StatusIdle, status)

	require.NoError(t, r.Start("bot-a"))
	status, err = r.Status("bot-a")
	require.NoError(t, err)
	assert.Equal(t, worker.StatusRunning, status)

	assert.ErrorIs(t, r.Start("bot-a"), apperrors.ErrWorkerRunning)

	require.NoError(t, r.Stop("bot-a"))
	status, err = r.Status("bot-a")
	require.NoError(t, err)
	assert.Equal(t, worker.StatusIdle, status)

	_, err = r.Status("missing")
	assert.ErrorIs(t, err, apperrors.ErrInstanceNotFound)
}

func TestStartAllStopAll(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)
	require.NoError(t, r.Add("bot-a", testInstanceConfig()))
	require.NoError(t, r.Add("bot-b", testInstanceConfig()))

	require.NoError(t, r.StartAll())
	for _, info := range r.All() {
		assert.Equal(t, worker.StatusRunning, info.Status)
	}

	r.StopAll()
	for _, info := range r.All() {
		assert.Equal(t, worker.StatusIdle, info.Status)
	}
}

func TestRemove_StopsRunningWorker(t *testing.T) {
	r, _ := newTestRegistry(t, mockFactory)
	require.NoError(t, r.Add("bot-a", testInstanceConfig()))
	require.NoError(t, r.Start("bot-a"))

	require.NoError(t, r.Remove("bot-a"))
	assert.Empty(t, r.All())
}
