package adapter

import (
	"context"
	"time"

	"github.com/solatis/policykeeper/internal/model"
	"github.com/solatis/policykeeper/internal/rules"
	"github.com/solatis/policykeeper/internal/types"
)

// LoadPolicy reads every row and appends each decoded rule to the model
// assertion for its type. Rule types the model does not define are skipped.
// Clears the filtered flag.
func (a *Adapter) LoadPolicy(ctx context.Context, m model.Model) error {
	return a.load(ctx, "load", m, nil)
}

// LoadFilteredPolicy loads only rows passing filter. A nil filter is a full
// load. After a non-nil filter IsFiltered reports true.
func (a *Adapter) LoadFilteredPolicy(ctx context.Context, m model.Model, filter *types.Filter) error {
	if filter == nil {
		return a.load(ctx, "load", m, nil)
	}
	f := *filter
	if f == nil {
		f = types.Filter{}
	}
	return a.load(ctx, "load_filtered", m, f)
}

func (a *Adapter) load(ctx context.Context, op string, m model.Model, filter types.Filter) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp(op, start, err) }()

	rows, err := a.selectRows(ctx, a.tx.Ext())
	if err != nil {
		return &types.PersistenceError{Op: op, Err: err}
	}

	loaded, skipped := 0, 0
	for _, row := range rows {
		if filter != nil && !rules.Matches(row, filter) {
			skipped++
			continue
		}
		rule, err := a.codec.Decode(row)
		if err != nil {
			a.logger.Warn().Err(err).Str("id", row.ID).Msg("skipping undecodable row")
			skipped++
			continue
		}
		if loadRule(m, rule) {
			loaded++
		}
	}

	a.filtered.Store(filter != nil)
	a.logger.Debug().
		Str("op", op).
		Int("rows", len(rows)).
		Int("loaded", loaded).
		Int("skipped", skipped).
		Msg("policy loaded")
	return nil
}

// loadRule appends a rule to its assertion. Returns false for unknown rule
// types and for rules already present.
func loadRule(m model.Model, rule types.Rule) bool {
	return m.AddPolicy(types.Section(rule.PType), rule.PType, rule.Values)
}

// Rules returns the decoded rules stored in the table, optionally filtered,
// without a model.
func (a *Adapter) Rules(ctx context.Context, filter *types.Filter) ([]types.Rule, error) {
	rows, err := a.selectRows(ctx, a.tx.Ext())
	if err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	var out []types.Rule
	for _, row := range rows {
		if filter != nil && !rules.Matches(row, *filter) {
			continue
		}
		rule, err := a.codec.Decode(row)
		if err != nil {
			a.logger.Warn().Err(err).Str("id", row.ID).Msg("skipping undecodable row")
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// Count returns the number of stored rows.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.queries.Get(ctx, a.tx.Ext(), "count-rules", &n); err != nil {
		return 0, &types.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}
