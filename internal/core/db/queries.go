package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// tablePlaceholder marks where the policy table name goes in embedded SQL.
const tablePlaceholder = "{{table}}"

// Queries provides access to named SQL queries loaded from embedded .sql files,
// bound to one policy table. Statements run on any sqlx.ExtContext so the same
// query set serves both the pool and an open transaction.
type Queries struct {
	dot   *dotsql.DotSql
	table string
}

// LoadQueries loads all .sql files from the embedded filesystem for the given
// table. The table name is validated before it is ever interpolated.
func LoadQueries(table string) (*Queries, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}

	var combinedSQL string

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		combinedSQL += string(content) + "\n"
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combinedSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	return &Queries{dot: dot, table: table}, nil
}

// Table returns the policy table the queries are bound to.
func (q *Queries) Table() string { return q.table }

// Raw returns a named query with the table substituted and placeholders
// rebound for the executing driver.
func (q *Queries) Raw(ext sqlx.ExtContext, name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return ext.Rebind(strings.ReplaceAll(query, tablePlaceholder, q.table)), nil
}

// Exec executes a named query.
func (q *Queries) Exec(ctx context.Context, ext sqlx.ExtContext, name string, args ...interface{}) (sql.Result, error) {
	query, err := q.Raw(ext, name)
	if err != nil {
		return nil, err
	}
	return ext.ExecContext(ctx, query, args...)
}

// Get retrieves a single row into dest using a named query.
func (q *Queries) Get(ctx context.Context, ext sqlx.ExtContext, name string, dest interface{}, args ...interface{}) error {
	query, err := q.Raw(ext, name)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, ext, dest, query, args...)
}

// Queryx runs a named query and returns the row cursor.
func (q *Queries) Queryx(ctx context.Context, ext sqlx.ExtContext, name string, args ...interface{}) (*sqlx.Rows, error) {
	query, err := q.Raw(ext, name)
	if err != nil {
		return nil, err
	}
	return ext.QueryxContext(ctx, query, args...)
}

// Where builds "<prefix> WHERE <conds>" against the bound table, joining
// conditions with AND, rebound for the executing driver. Conditions must only
// reference fixed column names.
func (q *Queries) Where(ext sqlx.ExtContext, prefix string, conds []string) string {
	stmt := strings.ReplaceAll(prefix, tablePlaceholder, q.table)
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	return ext.Rebind(stmt)
}
