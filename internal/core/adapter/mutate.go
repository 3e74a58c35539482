package adapter

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/policykeeper/internal/rules"
	"github.com/solatis/policykeeper/internal/types"
)

func checkSection(sec, ptype string) error {
	if sec != "" && ptype != "" && types.Section(ptype) != sec {
		return types.NewValidationError("sec", "rule type %q does not belong to section %q", ptype, sec)
	}
	return nil
}

// AddPolicy stores one rule. Adding a stored rule leaves exactly one row.
func (a *Adapter) AddPolicy(ctx context.Context, sec, ptype string, rule []string) error {
	return a.AddPolicies(ctx, sec, ptype, [][]string{rule})
}

// AddPolicies stores rules in one transaction. An empty list is a no-op.
func (a *Adapter) AddPolicies(ctx context.Context, sec, ptype string, rs [][]string) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp("add", start, err) }()

	if len(rs) == 0 {
		return nil
	}
	if err := checkSection(sec, ptype); err != nil {
		return err
	}
	rows, err := a.encodeAll(ptype, rs)
	if err != nil {
		return err
	}

	err = a.tx.Run(ctx, "add", func(ext sqlx.ExtContext) error {
		for _, row := range rows {
			if err := a.addRow(ctx, ext, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Debug().Str("ptype", ptype).Int("rules", len(rows)).Msg("rules added")
	return nil
}

// RemovePolicy deletes the rows storing rule. Removing an absent rule is not
// an error.
func (a *Adapter) RemovePolicy(ctx context.Context, sec, ptype string, rule []string) error {
	return a.RemovePolicies(ctx, sec, ptype, [][]string{rule})
}

// RemovePolicies deletes the rows storing each rule in one transaction. An
// empty list is a no-op.
func (a *Adapter) RemovePolicies(ctx context.Context, sec, ptype string, rs [][]string) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp("remove", start, err) }()

	if len(rs) == 0 {
		return nil
	}
	if err := checkSection(sec, ptype); err != nil {
		return err
	}
	rows, err := a.encodeAll(ptype, rs)
	if err != nil {
		return err
	}

	var removed int64
	err = a.tx.Run(ctx, "remove", func(ext sqlx.ExtContext) error {
		for _, row := range rows {
			n, err := a.deleteTuple(ctx, ext, row)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Debug().Str("ptype", ptype).Int64("rows", removed).Msg("rules removed")
	return nil
}

// RemoveFilteredPolicy deletes every row of ptype whose values starting at
// fieldIndex equal values. Empty values match anything at their position.
func (a *Adapter) RemoveFilteredPolicy(ctx context.Context, sec, ptype string, fieldIndex int, values ...string) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp("remove_filtered", start, err) }()

	if err := checkSection(sec, ptype); err != nil {
		return err
	}
	if ptype == "" {
		return types.NewValidationError("ptype", "cannot be empty")
	}
	matches, err := rules.FieldMatches(fieldIndex, values...)
	if err != nil {
		return err
	}

	conds, args := fieldConds(ptype, matches)
	var removed int64
	err = a.tx.Run(ctx, "remove_filtered", func(ext sqlx.ExtContext) error {
		res, err := ext.ExecContext(ctx, a.queries.Where(ext, "DELETE FROM {{table}}", conds), args...)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	a.logger.Debug().
		Str("ptype", ptype).
		Int("field_index", fieldIndex).
		Int64("rows", removed).
		Msg("filtered rules removed")
	return nil
}

// UpdatePolicy replaces oldRule with newRule in one transaction.
//
// Under the natural key policy, if newRule is already stored the update is
// skipped and oldRule stays: two distinct rules are never merged into one row.
func (a *Adapter) UpdatePolicy(ctx context.Context, sec, ptype string, oldRule, newRule []string) error {
	return a.UpdatePolicies(ctx, sec, ptype, [][]string{oldRule}, [][]string{newRule})
}

// UpdatePolicies applies pairwise updates in one transaction. oldRules and
// newRules must have the same length.
func (a *Adapter) UpdatePolicies(ctx context.Context, sec, ptype string, oldRules, newRules [][]string) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp("update", start, err) }()

	if len(oldRules) != len(newRules) {
		return types.NewValidationError("newRules", "got %d replacements for %d rules", len(newRules), len(oldRules))
	}
	if len(oldRules) == 0 {
		return nil
	}
	if err := checkSection(sec, ptype); err != nil {
		return err
	}
	olds, err := a.encodeAll(ptype, oldRules)
	if err != nil {
		return err
	}
	news, err := a.encodeAll(ptype, newRules)
	if err != nil {
		return err
	}

	skipped := 0
	err = a.tx.Run(ctx, "update", func(ext sqlx.ExtContext) error {
		for i := range olds {
			applied, err := a.updateRow(ctx, ext, olds[i], news[i])
			if err != nil {
				return err
			}
			if !applied {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Debug().
		Str("ptype", ptype).
		Int("rules", len(olds)).
		Int("skipped", skipped).
		Msg("rules updated")
	return nil
}

func (a *Adapter) updateRow(ctx context.Context, ext sqlx.ExtContext, oldRow, newRow types.Row) (bool, error) {
	if rules.RowKey(oldRow) == rules.RowKey(newRow) {
		return true, nil
	}

	exists, err := a.tupleExists(ctx, ext, newRow)
	if err != nil {
		return false, err
	}
	if exists && a.keys == types.NaturalKey {
		a.logger.Info().
			Str("old", rowString(oldRow)).
			Str("new", rowString(newRow)).
			Msg("replacement rule already stored, keeping original")
		return false, nil
	}

	if _, err := a.deleteTuple(ctx, ext, oldRow); err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	return true, a.insertRow(ctx, ext, newRow)
}
