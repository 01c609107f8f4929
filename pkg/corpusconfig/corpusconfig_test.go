package corpusconfig

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/relannis/internal/dbtest"
)

func TestEnsureDefault(t *testing.T) {
	t.Run("writes defaults for a new corpus", func(t *testing.T) {
		db := dbtest.New()
		wrote, err := EnsureDefault(context.Background(), db, "pcc2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !wrote {
			t.Fatalf("expected defaults to be written")
		}
		if got := db.Count("INSERT INTO corpus_properties"); got != len(Defaults) {
			t.Fatalf("expected %d upserts, got %d", len(Defaults), got)
		}
	})

	t.Run("keeps an existing configuration", func(t *testing.T) {
		db := dbtest.New()
		db.On(`SELECT "key", "value"`).Rows([]any{"max-context", "50"})
		wrote, err := EnsureDefault(context.Background(), db, "pcc2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wrote || db.Executed("INSERT INTO corpus_properties") {
			t.Fatalf("expected configuration to be kept")
		}
	})
}

func TestGetNullValue(t *testing.T) {
	db := dbtest.New()
	db.On(`SELECT "key", "value"`).Rows([]any{"max-context", "50"}, []any{KeyBrowseDocuments, nil})

	props, err := Get(context.Background(), db, "pcc2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(props) != 2 || props["max-context"] != "50" {
		t.Fatalf("expected both properties, got %v", props)
	}
	if v, ok := props[KeyBrowseDocuments]; !ok || v != "" {
		t.Fatalf("expected NULL value to read as empty, got %q/%v", v, ok)
	}
}

func TestAnalyzeTextsWithNullBrowsing(t *testing.T) {
	db := dbtest.New()
	db.On("SELECT EXISTS").Return(true)
	db.On(`SELECT "key", "value"`).Rows([]any{KeyBrowseDocuments, nil})

	changed, err := AnalyzeTexts(context.Background(), db, "tiger", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected browsing to be disabled")
	}
}

func TestAnalyzeTexts(t *testing.T) {
	tests := []struct {
		name    string
		blank   bool
		props   [][]any
		changed bool
	}{
		{name: "non-blank texts", blank: false, changed: false},
		{name: "blank text without configuration", blank: true, changed: true},
		{name: "blank text with browsing off", blank: true, props: [][]any{{KeyBrowseDocuments, "false"}}, changed: true},
		{name: "blank text with browsing explicitly on", blank: true, props: [][]any{{KeyBrowseDocuments, "true"}}, changed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.New()
			db.On("SELECT EXISTS").Return(tt.blank)
			db.On(`SELECT "key", "value"`).Rows(tt.props...)

			changed, err := AnalyzeTexts(context.Background(), db, "tiger", 7)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if changed != tt.changed {
				t.Fatalf("expected changed=%v, got %v", tt.changed, changed)
			}
			stmt, ok := db.Find("INSERT INTO corpus_properties")
			if ok != tt.changed {
				t.Fatalf("expected write=%v, got %v", tt.changed, ok)
			}
			if ok && (stmt.Args[1] != KeyBrowseDocuments || stmt.Args[2] != "false") {
				t.Fatalf("unexpected property write %v", stmt.Args)
			}
		})
	}
}
