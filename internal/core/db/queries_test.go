package db

import (
	"context"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
)

type stubBinder struct {
	sqlx.ExtContext
	bindType int
}

func (s stubBinder) Rebind(q string) string { return sqlx.Rebind(s.bindType, q) }

func TestLoadQueries_InvalidTable(t *testing.T) {
	if _, err := LoadQueries("bad table"); err == nil {
		t.Error("LoadQueries() error = nil, want ValidationError")
	}
}

func TestQueriesRaw(t *testing.T) {
	q, err := LoadQueries("acl_rules")
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	if q.Table() != "acl_rules" {
		t.Errorf("Table() = %v, want acl_rules", q.Table())
	}

	for _, name := range []string{"select-rules", "insert-rule", "delete-all-rules", "count-rules"} {
		t.Run(name, func(t *testing.T) {
			got, err := q.Raw(stubBinder{bindType: sqlx.QUESTION}, name)
			if err != nil {
				t.Fatalf("Raw() error = %v", err)
			}
			if !strings.Contains(got, "acl_rules") || strings.Contains(got, tablePlaceholder) {
				t.Errorf("Raw() = %q, want table substituted", got)
			}
		})
	}

	got, err := q.Raw(stubBinder{bindType: sqlx.DOLLAR}, "insert-rule")
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if !strings.Contains(got, "$7") || strings.Contains(got, "?") {
		t.Errorf("Raw() = %q, want dollar binds", got)
	}

	if _, err := q.Raw(stubBinder{bindType: sqlx.QUESTION}, "missing"); err == nil {
		t.Error("Raw(missing) error = nil, want error")
	}
}

func TestQueriesWhere(t *testing.T) {
	q, err := LoadQueries("casbin_rule")
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}

	tests := []struct {
		name  string
		bind  int
		conds []string
		want  string
	}{
		{"no conditions", sqlx.QUESTION, nil, "DELETE FROM casbin_rule"},
		{"question", sqlx.QUESTION, []string{"ptype = ?", "v0 IS NULL"}, "DELETE FROM casbin_rule WHERE ptype = ? AND v0 IS NULL"},
		{"dollar", sqlx.DOLLAR, []string{"ptype = ?", "v1 = ?"}, "DELETE FROM casbin_rule WHERE ptype = $1 AND v1 = $2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := q.Where(stubBinder{bindType: tt.bind}, "DELETE FROM {{table}}", tt.conds)
			if got != tt.want {
				t.Errorf("Where() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueriesExec(t *testing.T) {
	database := openTestDB(t, "sqlite")
	if err := MigrateUp(database, "casbin_rule"); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	q, err := LoadQueries("casbin_rule")
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}

	ctx := context.Background()
	if _, err := q.Exec(ctx, database, "insert-rule", "id-1", "p", "alice", "data1", "read", nil, nil); err != nil {
		t.Fatalf("Exec(insert-rule) error = %v", err)
	}

	var count int
	if err := q.Get(ctx, database, "count-rules", &count); err != nil {
		t.Fatalf("Get(count-rules) error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %v, want 1", count)
	}

	rows, err := q.Queryx(ctx, database, "select-rules")
	if err != nil {
		t.Fatalf("Queryx() error = %v", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %v, want 1", n)
	}
}
