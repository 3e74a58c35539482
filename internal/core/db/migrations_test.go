package db

import (
	"reflect"
	"testing"
)

func TestMigrateUp_Idempotent(t *testing.T) {
	for _, scheme := range []string{"sqlite", "sqlite+pure"} {
		t.Run(scheme, func(t *testing.T) {
			database := openTestDB(t, scheme)

			for i := 0; i < 2; i++ {
				if err := MigrateUp(database, "casbin_rule"); err != nil {
					t.Fatalf("MigrateUp() call %d error = %v", i+1, err)
				}
			}

			var count int
			if err := database.Get(&count, "SELECT COUNT(*) FROM casbin_rule"); err != nil {
				t.Fatalf("policy table missing: %v", err)
			}
			if count != 0 {
				t.Errorf("count = %v, want 0", count)
			}
		})
	}
}

func TestMigrateUp_InvalidTable(t *testing.T) {
	database := openTestDB(t, "sqlite")
	if err := MigrateUp(database, "rules; DROP TABLE x"); err == nil {
		t.Error("MigrateUp() error = nil, want ValidationError")
	}
}

func TestMigrateStatus_PerTable(t *testing.T) {
	database := openTestDB(t, "sqlite")

	if err := MigrateUp(database, "tenant_a"); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	applied, err := MigrateStatus(database, "tenant_a")
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("MigrateStatus() returned no migrations")
	}
	for _, s := range applied {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %s Applied = %v, AppliedAt = %v, want applied", s.ID, s.Applied, s.AppliedAt)
		}
		if len(s.Checksum) != 64 {
			t.Errorf("migration %s checksum = %q, want sha256 hex", s.ID, s.Checksum)
		}
	}

	pending, err := MigrateStatus(database, "tenant_b")
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(pending) != len(applied) {
		t.Fatalf("len(pending) = %v, want %v", len(pending), len(applied))
	}
	for _, s := range pending {
		if s.Applied {
			t.Errorf("migration %s for tenant_b Applied = true, want false", s.ID)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	sqlText := `-- header comment
CREATE TABLE t (a TEXT);
  -- indented comment
CREATE INDEX i ON t (a);

;`
	want := []string{"CREATE TABLE t (a TEXT)", "CREATE INDEX i ON t (a)"}
	if got := splitStatements(sqlText); !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements() = %q, want %q", got, want)
	}
}

func TestParseMigrationFiles_Sorted(t *testing.T) {
	for _, driver := range []string{"sqlite3", "postgres"} {
		fsys, dir, err := migrationSource(driver)
		if err != nil {
			t.Fatalf("migrationSource(%s) error = %v", driver, err)
		}
		ms, err := parseMigrationFiles(fsys, dir)
		if err != nil {
			t.Fatalf("parseMigrationFiles() error = %v", err)
		}
		if len(ms) == 0 {
			t.Fatalf("parseMigrationFiles(%s) returned nothing", dir)
		}
		for i := 1; i < len(ms); i++ {
			if ms[i-1].ID >= ms[i].ID {
				t.Errorf("migrations not sorted: %s before %s", ms[i-1].ID, ms[i].ID)
			}
		}
	}
}
