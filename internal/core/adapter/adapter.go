// Package adapter persists a policy model in a relational table.
//
// The Adapter translates between model.Model and policy rows: full loads,
// filtered loads, transactional full saves, and incremental add, remove and
// update operations (single and batch). Every multi-statement operation runs
// in one transaction through db.TxRunner, either owned by the adapter or, via
// WithTx, a transaction owned by the caller.
//
// Concurrency: methods are safe for concurrent use. Correctness between
// concurrent writers relies on the backing store's transaction isolation; the
// adapter adds no locking of its own.
package adapter

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/db"
	"github.com/solatis/policykeeper/internal/core/metrics"
	"github.com/solatis/policykeeper/internal/rules"
	"github.com/solatis/policykeeper/internal/types"
)

// DefaultTable is the policy table name used when none is configured.
const DefaultTable = "casbin_rule"

// Options configures an Adapter.
type Options struct {
	// Table is the policy table. Letters, digits and underscore only.
	// Default: casbin_rule
	Table string

	// KeyPolicy selects natural-key or surrogate-key de-duplication.
	// Default: natural
	KeyPolicy types.KeyPolicy

	// MaxPTypeLength and MaxFieldLength bound encoded rules.
	// Default: the schema column widths (10 and 100)
	MaxPTypeLength int
	MaxFieldLength int

	// Isolation is the level of transactions the adapter opens.
	// Default: read committed on Postgres, the driver default elsewhere.
	// Both keep SavePolicy's uncommitted delete invisible to readers.
	Isolation sql.IsolationLevel

	// SkipMigrate disables creating the table on construction.
	SkipMigrate bool

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Adapter is the policy persistence adapter. It always exposes the full
// operation set: load, filtered load, save, add, remove, filtered remove,
// update and their batch forms.
type Adapter struct {
	db       *sqlx.DB
	queries  *db.Queries
	tx       *db.TxRunner
	codec    rules.Codec
	keys     types.KeyPolicy
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	filtered *atomic.Bool
}

// New creates an adapter on database and, unless opts.SkipMigrate is set,
// ensures the policy table exists.
func New(database *sqlx.DB, opts Options) (*Adapter, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.KeyPolicy == "" {
		opts.KeyPolicy = types.NaturalKey
	}
	if !opts.KeyPolicy.Valid() {
		return nil, types.NewValidationError("key_policy", "must be %q or %q, got %q", types.NaturalKey, types.SurrogateKey, opts.KeyPolicy)
	}

	queries, err := db.LoadQueries(opts.Table)
	if err != nil {
		return nil, err
	}

	if !opts.SkipMigrate {
		if err := db.MigrateUp(database, opts.Table); err != nil {
			return nil, fmt.Errorf("failed to ensure policy table %s: %w", opts.Table, err)
		}
	}

	isolation := opts.Isolation
	if isolation == sql.LevelDefault {
		if dialect, _ := db.Dialect(database.DriverName()); dialect == db.DialectPostgres {
			isolation = sql.LevelReadCommitted
		}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Adapter{
		db:       database,
		queries:  queries,
		tx:       db.NewTxRunner(database, isolation),
		codec:    rules.NewCodec(opts.MaxPTypeLength, opts.MaxFieldLength),
		keys:     opts.KeyPolicy,
		logger:   logger.With().Str("component", "adapter").Str("table", opts.Table).Logger(),
		metrics:  opts.Metrics,
		filtered: new(atomic.Bool),
	}, nil
}

// WithTx returns an adapter whose operations run inside tx, a transaction
// owned by the caller. The returned adapter never commits or rolls back tx.
// It shares the table, codec and filtered state with a.
func (a *Adapter) WithTx(tx *sqlx.Tx) *Adapter {
	joined := *a
	joined.tx = a.tx.Join(tx)
	return &joined
}

// IsFiltered reports whether the last load was a filtered load. Callers must
// not SavePolicy a filtered model: the save would drop every row the filter
// excluded.
func (a *Adapter) IsFiltered() bool {
	return a.filtered.Load()
}

// Table returns the policy table name.
func (a *Adapter) Table() string { return a.queries.Table() }

// KeyPolicy returns the de-duplication policy in effect.
func (a *Adapter) KeyPolicy() types.KeyPolicy { return a.keys }
