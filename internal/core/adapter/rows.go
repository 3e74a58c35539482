package adapter

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/policykeeper/internal/rules"
	"github.com/solatis/policykeeper/internal/types"
)

// tupleConds matches a row's full tuple. Absent positions compare with
// IS NULL so a shorter rule never matches a longer one.
func tupleConds(row types.Row) ([]string, []interface{}) {
	conds := []string{"ptype = ?"}
	args := []interface{}{row.PType}
	for i := 0; i < types.MaxFields; i++ {
		if row.V[i].Valid {
			conds = append(conds, fmt.Sprintf("v%d = ?", i))
			args = append(args, row.V[i].String)
		} else {
			conds = append(conds, fmt.Sprintf("v%d IS NULL", i))
		}
	}
	return conds, args
}

// fieldConds matches ptype plus the given positional constraints.
func fieldConds(ptype string, matches []rules.FieldMatch) ([]string, []interface{}) {
	conds := []string{"ptype = ?"}
	args := []interface{}{ptype}
	for _, m := range matches {
		conds = append(conds, fmt.Sprintf("v%d = ?", m.Index))
		args = append(args, m.Value)
	}
	return conds, args
}

func (a *Adapter) selectRows(ctx context.Context, ext sqlx.ExtContext) ([]types.Row, error) {
	rows, err := a.queries.Queryx(ctx, ext, "select-rules")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var r types.Row
		if err := rows.Scan(&r.ID, &r.PType, &r.V[0], &r.V[1], &r.V[2], &r.V[3], &r.V[4]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *Adapter) insertRow(ctx context.Context, ext sqlx.ExtContext, row types.Row) error {
	row.ID = types.NewRowID()
	_, err := a.queries.Exec(ctx, ext, "insert-rule",
		row.ID, row.PType, row.V[0], row.V[1], row.V[2], row.V[3], row.V[4])
	return err
}

func (a *Adapter) deleteTuple(ctx context.Context, ext sqlx.ExtContext, row types.Row) (int64, error) {
	conds, args := tupleConds(row)
	res, err := ext.ExecContext(ctx, a.queries.Where(ext, "DELETE FROM {{table}}", conds), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *Adapter) tupleExists(ctx context.Context, ext sqlx.ExtContext, row types.Row) (bool, error) {
	conds, args := tupleConds(row)
	var n int
	if err := sqlx.GetContext(ctx, ext, &n, a.queries.Where(ext, "SELECT COUNT(*) FROM {{table}}", conds), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// addRow inserts one encoded rule under the adapter's key policy.
// Natural key: replace any row with the same tuple.
// Surrogate key: skip if the tuple already exists.
func (a *Adapter) addRow(ctx context.Context, ext sqlx.ExtContext, row types.Row) error {
	switch a.keys {
	case types.SurrogateKey:
		exists, err := a.tupleExists(ctx, ext, row)
		if err != nil {
			return err
		}
		if exists {
			a.logger.Debug().Str("rule", rowString(row)).Msg("rule already stored, skipping insert")
			return nil
		}
	default:
		if _, err := a.deleteTuple(ctx, ext, row); err != nil {
			return err
		}
	}
	return a.insertRow(ctx, ext, row)
}

func (a *Adapter) encodeAll(ptype string, rs [][]string) ([]types.Row, error) {
	out := make([]types.Row, 0, len(rs))
	for _, values := range rs {
		row, err := a.codec.Encode(types.Rule{PType: ptype, Values: values})
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// rowString renders a row for logs.
func rowString(row types.Row) string {
	s := row.PType
	for i := 0; i < row.Len(); i++ {
		s += ", " + row.V[i].String
	}
	return s
}
