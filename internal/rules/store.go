// Package rules stores min/max price rules and resolves the bounds that
// apply to a given item and attribute set.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"dmarket_sync/internal/core"

	"github.com/shopspring/decimal"
)

// ruleRecord is the on-disk shape of one rule. Prices travel as JSON numbers
// so hand-edited files with bare numerics load the same as written ones.
type ruleRecord struct {
	Item     string      `json:"item"`
	Phase    string      `json:"phase,omitempty"`
	Float    string      `json:"float,omitempty"`
	Seed     string      `json:"seed,omitempty"`
	MinPrice json.Number `json:"minPrice"`
	MaxPrice json.Number `json:"maxPrice"`
}

// Store is a mutex-guarded in-memory rule set backed by a JSON file. Every
// mutation persists before it becomes visible; a failed write leaves the
// in-memory set untouched.
type Store struct {
	mu     sync.RWMutex
	path   string
	rules  []core.PriceRule
	logger core.ILogger
}

// NewStore loads the rule file at path, treating a missing file as an empty
// rule set.
func NewStore(path string, logger core.ILogger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.WithField("component", "rule_store"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No rule file found, starting with empty rule set", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var records []ruleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	for _, rec := range records {
		rule, err := rec.toRule()
		if err != nil {
			return nil, fmt.Errorf("invalid rule for %q in %s: %w", rec.Item, path, err)
		}
		s.rules = append(s.rules, rule)
	}

	s.logger.Info("Loaded price rules", "count", len(s.rules), "path", path)
	return s, nil
}

func (r ruleRecord) toRule() (core.PriceRule, error) {
	min, err := decimal.NewFromString(r.MinPrice.String())
	if err != nil {
		return core.PriceRule{}, fmt.Errorf("bad minPrice %q: %w", r.MinPrice, err)
	}
	max, err := decimal.NewFromString(r.MaxPrice.String())
	if err != nil {
		return core.PriceRule{}, fmt.Errorf("bad maxPrice %q: %w", r.MaxPrice, err)
	}
	return core.PriceRule{
		Item: r.Item,
		Attrs: core.Attributes{
			Phase:       r.Phase,
			FloatBucket: r.Float,
			PaintSeed:   r.Seed,
		},
		Min: min,
		Max: max,
	}, nil
}

func toRecord(rule core.PriceRule) ruleRecord {
	return ruleRecord{
		Item:     rule.Item,
		Phase:    rule.Attrs.Phase,
		Float:    rule.Attrs.FloatBucket,
		Seed:     rule.Attrs.PaintSeed,
		MinPrice: json.Number(rule.Min.String()),
		MaxPrice: json.Number(rule.Max.String()),
	}
}

// Resolve returns the bounds of the most specific rule matching the item and
// attributes. Among equally specific matches the most recently stored rule
// wins. No match yields Unbounded.
func (s *Store) Resolve(item string, attrs core.Attributes) core.PriceBounds {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	var bounds core.PriceBounds
	for _, rule := range s.rules {
		if rule.Item != item || !rule.Attrs.Matches(attrs) {
			continue
		}
		if spec := rule.Attrs.Specificity(); spec >= best {
			best = spec
			bounds = core.PriceBounds{Min: rule.Min, Max: rule.Max}
		}
	}
	if best < 0 {
		return core.PriceBounds{Unbounded: true}
	}
	return bounds
}

// EnsureDefault stores a rule with the given bounds for the exact item and
// attribute set, unless one already exists. Returns whether a rule was added.
func (s *Store) EnsureDefault(item string, attrs core.Attributes, defaultMax, defaultMin decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(item, attrs) >= 0 {
		return false, nil
	}

	next := append(copyRules(s.rules), core.PriceRule{
		Item:  item,
		Attrs: attrs,
		Min:   defaultMin,
		Max:   defaultMax,
	})
	if err := s.persist(next); err != nil {
		return false, err
	}
	s.rules = next

	s.logger.Info("Stored default price rule",
		"item", item, "max", defaultMax.String(), "min", defaultMin.String())
	return true, nil
}

// Upsert replaces the rule with the same item and exact attribute set, or
// appends a new one.
func (s *Store) Upsert(rule core.PriceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyRules(s.rules)
	if i := s.indexOfLocked(rule.Item, rule.Attrs); i >= 0 {
		// Re-append so the refreshed rule wins specificity ties.
		next = append(append(next[:i], next[i+1:]...), rule)
	} else {
		next = append(next, rule)
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.rules = next
	return nil
}

// Delete removes the rule with the same item and exact attribute set.
// Returns whether a rule was removed.
func (s *Store) Delete(item string, attrs core.Attributes) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(item, attrs)
	if i < 0 {
		return false, nil
	}

	next := copyRules(s.rules)
	next = append(next[:i], next[i+1:]...)
	if err := s.persist(next); err != nil {
		return false, err
	}
	s.rules = next
	return true, nil
}

// All returns a snapshot of the rule set in storage order.
func (s *Store) All() []core.PriceRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRules(s.rules)
}

// Items returns the sorted set of distinct item names a rule exists for.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.rules))
	for _, rule := range s.rules {
		seen[rule.Item] = struct{}{}
	}
	items := make([]string, 0, len(seen))
	for item := range seen {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

func (s *Store) indexOfLocked(item string, attrs core.Attributes) int {
	for i, rule := range s.rules {
		if rule.Item == item && rule.Attrs == attrs {
			return i
		}
	}
	return -1
}

// persist writes the candidate rule set to a temp file in the same directory
// and renames it over the target, so readers never observe a partial file.
func (s *Store) persist(rules []core.PriceRule) error {
	records := make([]ruleRecord, 0, len(rules))
	for _, rule := range rules {
		records = append(records, toRecord(rule))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp rule file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp rule file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace rule file: %w", err)
	}
	return nil
}

func copyRules(rules []core.PriceRule) []core.PriceRule {
	out := make([]core.PriceRule, len(rules))
	copy(out, rules)
	return out
}
