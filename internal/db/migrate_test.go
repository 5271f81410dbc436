package db

import (
	"sort"
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migs, err := loadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("no embedded migrations found")
	}

	names := make([]string, len(migs))
	for i, m := range migs {
		names[i] = m.Name
		if !strings.HasSuffix(m.Name, ".sql") {
			t.Errorf("migration %q is not a .sql file", m.Name)
		}
		if m.Content == "" {
			t.Errorf("migration %q is empty", m.Name)
		}
		if len(m.Hash) != 64 {
			t.Errorf("migration %q hash = %q, want 64 hex chars", m.Name, m.Hash)
		}
	}

	if !sort.StringsAreSorted(names) {
		t.Fatalf("migrations out of order: %v", names)
	}
	if names[0] != "0001_init.sql" {
		t.Fatalf("first migration = %q, want 0001_init.sql", names[0])
	}
}
