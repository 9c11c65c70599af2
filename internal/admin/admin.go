// Package admin exposes the operations a dashboard or operator tool performs:
// manage bot instances and edit price rules.
package admin

import (
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/items"
	"dmarket_sync/internal/registry"
	"dmarket_sync/internal/worker"
)

// Service is the administrative facade. It adds no policy of its own; it
// fronts the registry, rule store and item view so callers depend on one
// surface.
type Service struct {
	registry *registry.Registry
	rules    core.IRuleStore
	items    *items.Set
	logger   core.ILogger
}

// NewService wires the admin facade.
func NewService(reg *registry.Registry, rules core.IRuleStore, itemSet *items.Set, logger core.ILogger) *Service {
	return &Service{
		registry: reg,
		rules:    rules,
		items:    itemSet,
		logger:   logger.WithField("component", "admin"),
	}
}

// Bots lists every registered instance with its worker state.
func (s *Service) Bots() []registry.InstanceInfo {
	return s.registry.All()
}

// AddBot registers a new instance. It starts stopped.
func (s *Service) AddBot(id string, cfg core.InstanceConfig) error {
	return s.registry.Add(id, cfg)
}

// RemoveBot stops and deletes an instance.
func (s *Service) RemoveBot(id string) error {
	return s.registry.Remove(id)
}

// StartBot launches an instance's reconciliation loop.
func (s *Service) StartBot(id string) error {
	return s.registry.Start(id)
}

// StopBot halts an instance's reconciliation loop.
func (s *Service) StopBot(id string) error {
	return s.registry.Stop(id)
}

// BotStatus reports one instance's worker state.
func (s *Service) BotStatus(id string) (worker.Status, error) {
	return s.registry.Status(id)
}

// Rules returns the full rule set.
func (s *Service) Rules() []core.PriceRule {
	return s.rules.All()
}

// UpsertRule stores or replaces a price rule.
func (s *Service) UpsertRule(rule core.PriceRule) error {
	if err := s.rules.Upsert(rule); err != nil {
		return err
	}
	s.logger.Info("Rule upserted", "item", rule.Item,
		"min", rule.Min.String(), "max", rule.Max.String())
	return nil
}

// DeleteRule removes the rule with the exact item and attribute set.
func (s *Service) DeleteRule(item string, attrs core.Attributes) (bool, error) {
	return s.rules.Delete(item, attrs)
}

// AvailableItems returns the titles seen across all instances plus those a
// rule exists for, for rule-editing autocompletion.
func (s *Service) AvailableItems() []string {
	return s.items.Snapshot()
}
