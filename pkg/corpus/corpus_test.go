package corpus

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/OFFIS-RIT/relannis/internal/dbtest"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
)

func TestCheckConflict(t *testing.T) {
	db := dbtest.New()
	db.On(existsSQL).Return(int64(1))

	err := Check(context.Background(), db, "pcc2")
	var conflict *common.ConflictingCorpusError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictingCorpusError, got %v", err)
	}
	if conflict.Name != "pcc2" {
		t.Fatalf("expected corpus name in error, got %q", conflict.Name)
	}
}

func TestCheckNoConflict(t *testing.T) {
	db := dbtest.New()
	db.On(existsSQL).Return(int64(0))
	if err := Check(context.Background(), db, "pcc2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStagedTopLevelName(t *testing.T) {
	db := dbtest.New()
	db.On(`WHERE "type" = 'CORPUS'`).Return("pcc2")
	name, err := StagedTopLevelName(context.Background(), db)
	if err != nil || name != "pcc2" {
		t.Fatalf("expected pcc2, got %q (%v)", name, err)
	}

	if _, err := StagedTopLevelName(context.Background(), dbtest.New()); !errors.Is(err, common.ErrFormat) {
		t.Fatalf("expected format error without root, got %v", err)
	}
}

func TestDeleteCascade(t *testing.T) {
	db := dbtest.New()
	db.On("DELETE FROM media_files").Rows([]any{"ab12.mp3"}, []any{"cd34.wav"})

	keys, err := Delete(context.Background(), db, statement.New(), []int64{7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(keys, []string{"ab12.mp3", "cd34.wav"}) {
		t.Fatalf("unexpected media keys %v", keys)
	}

	for _, table := range append(slices.Clone(toplevelTables), intervalTables...) {
		if !db.Executed(`DELETE FROM "` + table + `"`) {
			t.Fatalf("expected rows of %s to be deleted", table)
		}
	}
	if !db.Executed(`DROP TABLE IF EXISTS "facts_7"`) {
		t.Fatalf("expected facts table to be dropped")
	}
	tree := db.Index(deleteTreeSQL)
	for _, table := range intervalTables {
		if db.Index(`DELETE FROM "`+table+`"`) > tree {
			t.Fatalf("%s must be deleted while the corpus interval still exists", table)
		}
	}
	for _, s := range db.Statements {
		if len(s.Args) > 0 && s.Args[0] != int64(7) {
			t.Fatalf("unexpected argument %v in %s", s.Args, s.SQL)
		}
	}
}

func TestCheckAndRemoveWithoutExistingCorpus(t *testing.T) {
	db := dbtest.New()
	keys, err := CheckAndRemove(context.Background(), db, statement.New(), "pcc2")
	if err != nil || keys != nil {
		t.Fatalf("expected nothing to remove, got %v (%v)", keys, err)
	}
	if db.Executed("DELETE") {
		t.Fatalf("expected no deletes")
	}
}

func TestCheckAndRemoveExisting(t *testing.T) {
	db := dbtest.New()
	db.On(findTopLevelSQL).Rows([]any{int64(3)})

	if _, err := CheckAndRemove(context.Background(), db, statement.New(), "pcc2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.Executed(`DROP TABLE IF EXISTS "facts_3"`) {
		t.Fatalf("expected old corpus to be deleted")
	}
}

func TestDeleteCancelled(t *testing.T) {
	db := dbtest.New()
	ctrl := statement.New()
	ctrl.Cancel()
	_, err := Delete(context.Background(), db, ctrl, []int64{1})
	if !errors.Is(err, common.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestList(t *testing.T) {
	db := dbtest.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	db.On("FROM corpus_stats s").Rows(
		[]any{int64(0), "pcc2", int64(2), int64(399), "/data/pcc2", now, int64(0), int64(9)},
	)
	got, err := List(context.Background(), db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "pcc2" || got[0].Tokens != 399 || !got[0].ImportedAt.Equal(now) {
		t.Fatalf("unexpected corpora %+v", got)
	}

	if _, err := Get(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
