package adapter

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/policykeeper/internal/model"
	"github.com/solatis/policykeeper/internal/rules"
	"github.com/solatis/policykeeper/internal/types"
)

// SavePolicy replaces the table contents with every rule in m.
//
// Identical rules collapse into one row and each row gets a fresh id. The
// delete and the inserts share one transaction. A model without rules is a
// no-op: no statement is issued and the table is left untouched.
func (a *Adapter) SavePolicy(ctx context.Context, m model.Model) (err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAdapterOp("save", start, err) }()

	rows, err := a.collectRows(m)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.logger.Warn().Msg("model has no rules, leaving stored policy untouched")
		return nil
	}

	err = a.tx.Run(ctx, "save", func(ext sqlx.ExtContext) error {
		if _, err := a.queries.Exec(ctx, ext, "delete-all-rules"); err != nil {
			return err
		}
		for _, row := range rows {
			if err := a.insertRow(ctx, ext, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info().Int("rows", len(rows)).Msg("policy saved")
	return nil
}

// collectRows encodes every rule of m in section and rule type order,
// dropping duplicate tuples.
func (a *Adapter) collectRows(m model.Model) ([]types.Row, error) {
	sections := make([]string, 0, len(m))
	for sec := range m {
		sections = append(sections, sec)
	}
	sort.Strings(sections)

	seen := make(map[string]struct{})
	var rows []types.Row
	for _, sec := range sections {
		ptypes := make([]string, 0, len(m[sec]))
		for ptype := range m[sec] {
			ptypes = append(ptypes, ptype)
		}
		sort.Strings(ptypes)

		for _, ptype := range ptypes {
			for _, values := range m[sec][ptype].Policy {
				row, err := a.codec.Encode(types.Rule{PType: ptype, Values: values})
				if err != nil {
					return nil, err
				}
				key := rules.RowKey(row)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}
