// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"
)

// Record is a single row in the external keyed-record store. Fields are
// keyed by display name; typed codecs live at the store adapter boundary.
type Record struct {
	Fields map[string]any
	ID     string
}

// Op is a filter comparison operator.
type Op string

// Filter operators. The core only ever issues filters expressible in
// this subset: equality, range, substring, conjunction.
const (
	OpEq       Op = "eq"
	OpContains Op = "contains"
	OpGTE      Op = "gte"
	OpLTE      Op = "lte"
)

// Condition is a single field predicate.
type Condition struct {
	Value any
	Field string
	Op    Op
}

// Filter is a conjunction of conditions. An empty filter matches
// every record.
type Filter struct {
	Conditions []Condition
}

// Where appends an equality condition and returns the filter for chaining.
func (f Filter) Where(field string, op Op, value any) Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: op, Value: value})
	return f
}

// Query bundles a filter with sorting and limit options.
type Query struct {
	SortField string
	Filter    Filter
	Limit     int
	SortDesc  bool
}

// MaxBatchSize is the largest batch the record store accepts in a
// single create call. Callers must chunk accordingly.
const MaxBatchSize = 10

// RecordStore is the contract for the external keyed-record service.
// Every component persists through it; its concrete backend (hosted
// tabular database or local SQLite) is interchangeable.
type RecordStore interface {
	Create(ctx context.Context, table string, fields map[string]any) (string, error)
	CreateBatch(ctx context.Context, table string, batch []map[string]any) ([]string, error)
	Update(ctx context.Context, table, id string, fields map[string]any) error
	Find(ctx context.Context, table, id string) (*Record, error)
	Query(ctx context.Context, table string, q Query) ([]Record, error)
	Destroy(ctx context.Context, table string, ids ...string) error
	Close() error
}

// Notifier delivers human-readable run reports to the external
// notification channel. Message formatting and transport are out of
// scope; callers pass plain text.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
