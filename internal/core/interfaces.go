package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IMarketplace defines the four operations the engine performs against the
// marketplace. Implementations handle signing, throttling and rate-limit
// retries; deletes and fetches are safe to retry, creates rely on the remote
// side rejecting duplicates.
type IMarketplace interface {
	ListActiveTargets(ctx context.Context) ([]Target, error)
	DeleteTarget(ctx context.Context, targetID string) error
	CreateTarget(ctx context.Context, req CreateTargetRequest) error
	FetchCompetingOrders(ctx context.Context, title string) ([]CompetingOrder, error)
}

// IRuleStore resolves and mutates min/max price rules. Mutations persist
// synchronously before returning success.
type IRuleStore interface {
	Resolve(item string, attrs Attributes) PriceBounds
	EnsureDefault(item string, attrs Attributes, defaultMax, defaultMin decimal.Decimal) (bool, error)
	Upsert(rule PriceRule) error
	Delete(item string, attrs Attributes) (bool, error)
	All() []PriceRule
}

// IItemSink receives the titles a worker observed in its latest cycle.
// Reporting is best-effort; the dashboard consumes the aggregate view.
type IItemSink interface {
	Report(instanceID string, titles []string)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
