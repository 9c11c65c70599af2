// Package core defines the shared types and interfaces of the price
// synchronization engine.
package core

import (
	"dmarket_sync/internal/config"

	"github.com/shopspring/decimal"
)

// Attributes is the optional trait triple scoping an item listing. An empty
// field means the trait is unspecified and acts as a wildcard.
type Attributes struct {
	Phase       string
	FloatBucket string
	PaintSeed   string
}

// Specificity returns how many traits the set pins down.
func (a Attributes) Specificity() int {
	n := 0
	if a.Phase != "" {
		n++
	}
	if a.FloatBucket != "" {
		n++
	}
	if a.PaintSeed != "" {
		n++
	}
	return n
}

// Matches reports whether other satisfies every trait a specifies.
// Unspecified traits impose no constraint.
func (a Attributes) Matches(other Attributes) bool {
	if a.Phase != "" && a.Phase != other.Phase {
		return false
	}
	if a.FloatBucket != "" && a.FloatBucket != other.FloatBucket {
		return false
	}
	if a.PaintSeed != "" && a.PaintSeed != other.PaintSeed {
		return false
	}
	return true
}

// AttributeKV mirrors the marketplace's name/value attribute records. The
// full list is carried through untouched so recreated targets keep traits
// the engine itself does not interpret.
type AttributeKV struct {
	Name  string
	Value string
}

// Target is a standing buy order owned by the marketplace. The engine only
// observes, deletes and recreates targets; it never mutates one in place.
type Target struct {
	ID            string
	Title         string
	Amount        string
	Price         decimal.Decimal
	Attributes    Attributes
	RawAttributes []AttributeKV
}

// CompetingOrder is another participant's order, the pricing reference.
// Fetched fresh each cycle and never persisted.
type CompetingOrder struct {
	Price      decimal.Decimal
	Attributes Attributes
}

// PriceRule bounds the price for an item and optional attribute triple.
type PriceRule struct {
	Item  string
	Attrs Attributes
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// PriceBounds is the resolved constraint for one query. Unbounded means no
// rule matched: Min is zero and Max carries no meaning.
type PriceBounds struct {
	Min       decimal.Decimal
	Max       decimal.Decimal
	Unbounded bool
}

// CreateTargetRequest describes the replacement listing to publish.
type CreateTargetRequest struct {
	Title      string
	Amount     string
	Price      decimal.Decimal
	Attributes []AttributeKV
}

// InstanceConfig is the credential and polling configuration of one bot
// instance. Immutable once its worker runs; replacing it requires
// stop and restart.
type InstanceConfig struct {
	PublicKey     string
	SecretKey     config.Secret
	APIURL        string
	GameID        string
	Currency      string
	CheckInterval int // seconds between reconciliation cycles
}
