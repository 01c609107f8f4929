package facts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/relannis/internal/dbtest"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
)

func TestStatisticsTarget(t *testing.T) {
	tests := []struct {
		name       string
		server     string
		configured int
		want       int
	}{
		{name: "configured minimum wins", server: "100", configured: 250, want: 250},
		{name: "never below server default", server: "1000", configured: 250, want: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.New()
			db.On(defaultTargetSQL).Return(tt.server)
			got, err := StatisticsTarget(context.Background(), db, tt.configured)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestBuildOrder(t *testing.T) {
	db := dbtest.New()
	db.On(defaultTargetSQL).Return("100")
	db.On(`INSERT INTO "facts_12"`).Tag("INSERT 0 77")

	rows, err := Build(context.Background(), db, statement.New(), 12, Options{StatisticsTarget: 250})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 77 {
		t.Fatalf("expected 77 rows, got %d", rows)
	}

	create := db.Index(`CREATE TABLE "facts_12"`)
	stats := db.Index("SET STATISTICS 250")
	fill := db.Index(`INSERT INTO "facts_12"`)
	analyze := db.Index(`ANALYZE "facts_12"`)
	if !(create < stats && stats < fill && fill < analyze) {
		t.Fatalf("expected create < statistics < fill < analyze, got %d %d %d %d", create, stats, fill, analyze)
	}
	stmt, _ := db.Find(`INSERT INTO "facts_12"`)
	if !strings.Contains(stmt.SQL, `n."toplevel_corpus" = 12`) {
		t.Fatalf("expected facts restricted to the corpus, got %s", stmt.SQL)
	}
	if db.Executed("n_distinct") {
		t.Fatalf("distinct override must be opt-in")
	}
}

func TestBuildDistinctOverride(t *testing.T) {
	db := dbtest.New()
	db.On(defaultTargetSQL).Return("100")
	db.On(`max("left_token")`).Return(int64(350), int64(362))

	if _, err := Build(context.Background(), db, statement.New(), 3, Options{StatisticsTarget: 250, DistinctTokenOverride: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stmt, ok := db.Find("n_distinct")
	if !ok {
		t.Fatalf("expected n_distinct override")
	}
	if !strings.Contains(stmt.SQL, `"left_token" SET (n_distinct = 350)`) || !strings.Contains(stmt.SQL, `"right_token" SET (n_distinct = 362)`) {
		t.Fatalf("expected separate estimates per column, got %s", stmt.SQL)
	}
	if db.Index("n_distinct") > db.Index(`ANALYZE "facts_3"`) {
		t.Fatalf("override must precede the statistics refresh")
	}
}

func TestDistinctOverrideSkipsEmptyEstimates(t *testing.T) {
	tests := []struct {
		name        string
		left, right int64
		want        string
	}{
		{name: "no tokens", left: 0, right: 0},
		{name: "right only", left: 0, right: 4, want: `ALTER TABLE "facts_5" ALTER COLUMN "right_token" SET (n_distinct = 4)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.New()
			db.On(`max("left_token")`).Return(tt.left, tt.right)
			if err := overrideDistinctTokens(context.Background(), db, `"facts_5"`); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			stmt, ok := db.Find("n_distinct")
			if tt.want == "" {
				if ok {
					t.Fatalf("expected no override, got %s", stmt.SQL)
				}
				return
			}
			if stmt.SQL != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, stmt.SQL)
			}
		})
	}
}

func TestBuildCancelled(t *testing.T) {
	db := dbtest.New()
	db.On(defaultTargetSQL).Return("100")
	ctrl := statement.New()
	ctrl.Cancel()
	if _, err := Build(context.Background(), db, ctrl, 1, Options{}); !errors.Is(err, common.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if db.Executed("CREATE TABLE") {
		t.Fatalf("expected no facts table")
	}
}
