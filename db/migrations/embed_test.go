package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.Glob(Files, "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e, ".up.sql"):
			ups[strings.TrimSuffix(e, ".up.sql")] = true
		case strings.HasSuffix(e, ".down.sql"):
			downs[strings.TrimSuffix(e, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", e)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected at least one migration")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("expected down migration for %s", name)
		}
	}
}

func TestInitCreatesImportTables(t *testing.T) {
	data, err := fs.ReadFile(Files, "000001_init.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	sql := string(data)
	for _, table := range []string{"corpus_stats", "media_files", "import_locks", "import_timing", "corpus_properties"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("expected migration to create %s", table)
		}
	}
	if strings.Contains(sql, "CREATE TABLE IF NOT EXISTS facts") {
		t.Fatalf("facts tables are created per import, not by migration")
	}
}
