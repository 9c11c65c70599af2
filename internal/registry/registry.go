// Package registry manages the set of bot instances: their persisted
// configuration and the lifecycle of each instance's worker.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"dmarket_sync/internal/alert"
	"dmarket_sync/internal/config"
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/items"
	"dmarket_sync/internal/recorder"
	"dmarket_sync/internal/worker"
	apperrors "dmarket_sync/pkg/errors"
	"dmarket_sync/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// ClientFactory builds the marketplace client for one instance. Returning an
// error rejects the instance, typically on bad key material.
type ClientFactory func(cfg core.InstanceConfig, logger core.ILogger) (core.IMarketplace, error)

// instanceRecord is the on-disk shape of one instance. The secret key is
// stored in the clear; the instances file is the credential store.
type instanceRecord struct {
	ID            string `json:"id"`
	PublicKey     string `json:"publicKey"`
	SecretKey     string `json:"secretKey"`
	APIURL        string `json:"apiUrl,omitempty"`
	GameID        string `json:"gameId,omitempty"`
	Currency      string `json:"currency,omitempty"`
	CheckInterval int    `json:"checkInterval,omitempty"`
}

type entry struct {
	cfg    core.InstanceConfig
	worker *worker.Worker
}

// InstanceInfo is the dashboard view of one instance.
type InstanceInfo struct {
	ID            string
	Status        worker.Status
	GameID        string
	Currency      string
	CheckInterval int
}

// Registry owns every instance and its worker. A single mutex serializes all
// administrative operations, including the bounded wait for a worker to stop
// during removal.
type Registry struct {
	mu sync.Mutex

	path      string
	defaults  config.DefaultsConfig
	factory   ClientFactory
	rules     core.IRuleStore
	items     *items.Set
	history   recorder.Recorder
	alerts    *alert.Manager
	logger    core.ILogger
	instances map[string]*entry
}

// New builds an empty registry persisting to path.
func New(path string, defaults config.DefaultsConfig, factory ClientFactory,
	rules core.IRuleStore, itemSet *items.Set, history recorder.Recorder,
	alerts *alert.Manager, logger core.ILogger) *Registry {
	return &Registry{
		path:      path,
		defaults:  defaults,
		factory:   factory,
		rules:     rules,
		items:     itemSet,
		history:   history,
		alerts:    alerts,
		logger:    logger.WithField("component", "registry"),
		instances: make(map[string]*entry),
	}
}

// Load reads the instances file and builds a stopped worker for each record.
// A missing file is an empty registry. An instance that fails to build is
// skipped with an error log so one bad credential does not block the rest.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("No instances file found, starting empty", "path", r.path)
			return nil
		}
		return fmt.Errorf("failed to read instances file %s: %w", r.path, err)
	}

	var records []instanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse instances file %s: %w", r.path, err)
	}

	for _, rec := range records {
		if rec.ID == "" {
			r.logger.Warn("Skipping instance record without an id")
			continue
		}
		if _, exists := r.instances[rec.ID]; exists {
			r.logger.Warn("Skipping duplicate instance record", "id", rec.ID)
			continue
		}
		cfg := r.applyDefaults(rec.toConfig())
		e, err := r.buildEntry(rec.ID, cfg)
		if err != nil {
			r.logger.Error("Failed to build instance, skipping", "id", rec.ID, "error", err)
			continue
		}
		r.instances[rec.ID] = e
	}

	r.logger.Info("Loaded instances", "count", len(r.instances))
	return nil
}

// Add registers a new instance and persists the updated set. The instance
// starts stopped.
func (r *Registry) Add(id string, cfg core.InstanceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[id]; exists {
		return fmt.Errorf("%w: %s", apperrors.ErrInstanceExists, id)
	}

	cfg = r.applyDefaults(cfg)
	e, err := r.buildEntry(id, cfg)
	if err != nil {
		return err
	}

	if err := r.persistWith(func(m map[string]*entry) { m[id] = e }); err != nil {
		return err
	}
	r.instances[id] = e
	r.logger.Info("Instance added", "id", id, "game", cfg.GameID)
	return nil
}

// Remove stops the instance's worker, persists the reduced set, and drops
// the instance's contributions to the item view and metrics.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrInstanceNotFound, id)
	}

	e.worker.Stop()

	if err := r.persistWith(func(m map[string]*entry) { delete(m, id) }); err != nil {
		return err
	}
	delete(r.instances, id)
	r.items.Forget(id)
	telemetry.GetGlobalMetrics().ForgetWorker(id)
	r.logger.Info("Instance removed", "id", id)
	return nil
}

// Start launches the instance's worker.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrInstanceNotFound, id)
	}
	if err := e.worker.Start(); err != nil {
		return err
	}
	telemetry.GetGlobalMetrics().SetWorkerRunning(id, true)
	return nil
}

// Stop halts the instance's worker.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrInstanceNotFound, id)
	}
	e.worker.Stop()
	telemetry.GetGlobalMetrics().SetWorkerRunning(id, false)
	return nil
}

// Status returns the lifecycle state of one instance's worker.
func (r *Registry) Status(id string) (worker.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.instances[id]
	if !exists {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInstanceNotFound, id)
	}
	return e.worker.Status(), nil
}

// All returns every instance sorted by ID.
func (r *Registry) All() []InstanceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]InstanceInfo, 0, len(r.instances))
	for id, e := range r.instances {
		out = append(out, InstanceInfo{
			ID:            id,
			Status:        e.worker.Status(),
			GameID:        e.cfg.GameID,
			Currency:      e.cfg.Currency,
			CheckInterval: e.cfg.CheckInterval,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartAll launches every stopped worker, collecting failures.
func (r *Registry) StartAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var g errgroup.Group
	for id, e := range r.instances {
		id, e := id, e
		g.Go(func() error {
			if err := e.worker.Start(); err != nil {
				return fmt.Errorf("instance %s: %w", id, err)
			}
			telemetry.GetGlobalMetrics().SetWorkerRunning(id, true)
			return nil
		})
	}
	return g.Wait()
}

// StopAll halts every worker.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var g errgroup.Group
	for id, e := range r.instances {
		id, e := id, e
		g.Go(func() error {
			e.worker.Stop()
			telemetry.GetGlobalMetrics().SetWorkerRunning(id, false)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) buildEntry(id string, cfg core.InstanceConfig) (*entry, error) {
	client, err := r.factory(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build marketplace client for %s: %w", id, err)
	}
	return &entry{
		cfg:    cfg,
		worker: worker.New(id, cfg, client, r.rules, r.items, r.history, r.alerts, r.logger),
	}, nil
}

func (r *Registry) applyDefaults(cfg core.InstanceConfig) core.InstanceConfig {
	if cfg.APIURL == "" {
		cfg.APIURL = r.defaults.APIURL
	}
	if cfg.GameID == "" {
		cfg.GameID = r.defaults.GameID
	}
	if cfg.Currency == "" {
		cfg.Currency = r.defaults.Currency
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = r.defaults.CheckInterval
	}
	return cfg
}

func (rec instanceRecord) toConfig() core.InstanceConfig {
	return core.InstanceConfig{
		PublicKey:     rec.PublicKey,
		SecretKey:     config.Secret(rec.SecretKey),
		APIURL:        rec.APIURL,
		GameID:        rec.GameID,
		Currency:      rec.Currency,
		CheckInterval: rec.CheckInterval,
	}
}

// persistWith writes the instance set as mutated by apply to disk without
// touching the live map; the caller applies the same mutation only after the
// write lands.
func (r *Registry) persistWith(apply func(map[string]*entry)) error {
	next := make(map[string]*entry, len(r.instances))
	for id, e := range r.instances {
		next[id] = e
	}
	apply(next)

	records := make([]instanceRecord, 0, len(next))
	for id, e := range next {
		records = append(records, instanceRecord{
			ID:            id,
			PublicKey:     e.cfg.PublicKey,
			SecretKey:     e.cfg.SecretKey.Reveal(),
			APIURL:        e.cfg.APIURL,
			GameID:        e.cfg.GameID,
			Currency:      e.cfg.Currency,
			CheckInterval: e.cfg.CheckInterval,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instances: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".instances-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp instances file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write instances: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp instances file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to restrict instances file mode: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace instances file: %w", err)
	}
	return nil
}
