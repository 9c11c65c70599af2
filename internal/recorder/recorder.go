// Package recorder persists a history of reconciliation outcomes for later
// analysis. Writes are asynchronous so the reconciliation loop never blocks
// on storage.
package recorder

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action classifies what a reconciliation did to one target.
type Action string

const (
	ActionRepriced    Action = "repriced"
	ActionKept        Action = "kept"
	ActionDeleteError Action = "delete_error"
	ActionCreateError Action = "create_error"
)

// ReconciliationRecord captures one target's outcome within a cycle.
type ReconciliationRecord struct {
	CycleID      string
	InstanceID   string
	Title        string
	Action       Action
	OldPrice     decimal.Decimal
	NewPrice     decimal.Decimal
	TopCompeting decimal.Decimal
	OrderCount   int
	Detail       string
	At           time.Time
}

// Recorder receives reconciliation outcomes. Implementations must be safe for
// concurrent use by multiple workers.
type Recorder interface {
	Record(rec ReconciliationRecord)
	Close() error
}
