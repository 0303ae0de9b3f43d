package db

import (
	"testing"
	"testing/fstest"
)

func TestMigratorLoad_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"002_overrides.sql": {Data: []byte("CREATE TABLE b ();")},
		"001_rules.sql":     {Data: []byte("CREATE TABLE a ();")},
		"README.md":         {Data: []byte("docs")},
		"draft.sql":         {Data: []byte("SELECT 1;")},
		"xx_notes.sql":      {Data: []byte("SELECT 1;")},
	}

	m := NewMigrator(nil, fsys)
	migrations, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected order: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].SQL != "CREATE TABLE a ();" {
		t.Fatalf("unexpected sql: %q", migrations[0].SQL)
	}
}
