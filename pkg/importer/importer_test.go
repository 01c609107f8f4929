package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/relannis/internal/dbtest"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/corpus"
	"github.com/OFFIS-RIT/relannis/pkg/extdata"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/leaselock"
)

type fakeLocker struct {
	keys []string
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

type fakeStore struct {
	mu        sync.Mutex
	staged    []string
	promoted  []string
	discarded []string
	deleted   []string
}

func (s *fakeStore) Stage(_ context.Context, importID, key string, r io.ReadSeeker, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, importID+"/"+key)
	return nil
}

func (s *fakeStore) Promote(_ context.Context, _ string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoted = append(s.promoted, keys...)
	return nil
}

func (s *fakeStore) Discard(_ context.Context, importID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, importID)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) List(context.Context) ([]string, error) { return nil, nil }

type fakeGenerator struct {
	calls []string
}

func (g *fakeGenerator) Generate(_ context.Context, _ int64, corpus string) error {
	g.calls = append(g.calls, corpus)
	return nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// corpusDir writes an empty relANNIS 3.3 export.
func corpusDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{format.VersionFile: "3.3\n"}
	for _, tbl := range format.Layout(format.RelANNIS33) {
		files[tbl.Name+".annis"] = ""
	}
	writeFiles(t, dir, files)
	return dir
}

// scriptedDB answers every lookup a successful import performs.
func scriptedDB() *dbtest.DB {
	db := dbtest.New()
	db.On(`SELECT "name" FROM "_corpus"`).Return("pcc2")
	db.On(`count(*) FROM corpus WHERE`).Return(int64(0))
	db.On(`count(*) FROM "_corpus" WHERE "top_level"`).Return(int64(1))
	db.On(`count(*) FROM "_node"`).Return(int64(0))
	db.On(`GROUP BY "corpus_ref", "name" HAVING`).Return(false)
	db.On("max(max_corpus_id)").Return(int64(10), int64(100), int64(1000))
	db.On(`SELECT max("id") FROM "_corpus" WHERE "top_level"`).Return(int64(0))
	db.On("INSERT INTO node (").Tag("INSERT 0 5")
	db.On("SHOW default_statistics_target").Return("100")
	db.On("SELECT EXISTS (SELECT 1 FROM text").Return(false)
	return db
}

func newPipeline(db *dbtest.DB, opts Options) (*Pipeline, *fakeLocker) {
	locker := &fakeLocker{}
	opts.TemporaryStaging = true
	return New(db, locker, nil, opts), locker
}

func TestImportCommitsOnce(t *testing.T) {
	db := scriptedDB()
	p, locker := newPipeline(db, Options{ExampleQueries: ExampleQueriesFalse})

	res, err := p.Import(context.Background(), Request{Path: corpusDir(t), Alias: "potsdam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CorpusID != 10 || res.Name != "pcc2" || res.Nodes != 5 || res.Version != format.RelANNIS33 {
		t.Fatalf("unexpected result %+v", res)
	}
	if db.Committed != 1 || db.RolledBack != 0 {
		t.Fatalf("expected one commit and no rollback, got %d/%d", db.Committed, db.RolledBack)
	}
	if len(locker.keys) != 1 || locker.keys[0] != leaselock.ImportKey {
		t.Fatalf("expected import lease, got %v", locker.keys)
	}
	if db.Statements[0].SQL != "SET LOCAL statement_timeout TO 0" {
		t.Fatalf("expected statement timeout to be lifted first, got %s", db.Statements[0].SQL)
	}

	order := []string{
		`COPY "_corpus"`,
		`count(*) FROM corpus WHERE`,
		`ALTER TABLE "_corpus" ADD PRIMARY KEY`,
		"LOCK TABLE corpus_stats",
		`CREATE TEMPORARY TABLE "_nodeidmapping"`,
		"INSERT INTO node (",
		"INSERT INTO corpus_stats",
		`CREATE TABLE "facts_10"`,
		"INSERT INTO corpus_properties",
		"INSERT INTO corpus_alias",
		`DROP TABLE IF EXISTS "_nodeidmapping"`,
	}
	last := -1
	for _, s := range order {
		i := db.Index(s)
		if i < 0 {
			t.Fatalf("expected statement %q", s)
		}
		if i < last {
			t.Fatalf("statement %q out of order", s)
		}
		last = i
	}
}

func TestImportConflictRollsBack(t *testing.T) {
	db := dbtest.New()
	db.On(`count(*) FROM corpus WHERE`).Return(int64(1))
	db.On(`SELECT "name" FROM "_corpus"`).Return("pcc2")
	p, _ := newPipeline(db, Options{})

	_, err := p.Import(context.Background(), Request{Path: corpusDir(t)})
	var conflict *common.ConflictingCorpusError
	if !errors.As(err, &conflict) || conflict.Name != "pcc2" {
		t.Fatalf("expected conflicting corpus error, got %v", err)
	}
	if db.Committed != 0 || db.RolledBack != 1 {
		t.Fatalf("expected rollback only, got %d/%d", db.Committed, db.RolledBack)
	}
	if db.Executed("INSERT INTO") {
		t.Fatalf("expected no target mutation before the conflict check")
	}
}

func TestImportOverwriteReplacesCorpus(t *testing.T) {
	db := scriptedDB()
	db.On(`SELECT "id" FROM corpus WHERE "top_level"`).Rows([]any{int64(3)})
	db.On("DELETE FROM media_files").Rows([]any{"3/abc.mp3"})
	media := &fakeStore{}
	locker := &fakeLocker{}
	p := New(db, locker, &extdata.Importer{Store: media}, Options{TemporaryStaging: true, ExampleQueries: ExampleQueriesFalse})

	if _, err := p.Import(context.Background(), Request{Path: corpusDir(t), Overwrite: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.Executed(`count(*) FROM corpus WHERE`) {
		t.Fatalf("overwrite must not fail on the existing corpus")
	}
	drop := db.Index(`DROP TABLE IF EXISTS "facts_3"`)
	insert := db.Index("INSERT INTO node (")
	if drop < 0 || drop > insert {
		t.Fatalf("expected old corpus to be removed before the insert, got %d/%d", drop, insert)
	}
	if len(media.deleted) != 1 || media.deleted[0] != "3/abc.mp3" {
		t.Fatalf("expected old media to be removed after commit, got %v", media.deleted)
	}
}

func TestImportOverwriteKeepsReimportedMedia(t *testing.T) {
	dir := corpusDir(t)
	writeFiles(t, dir, map[string]string{"ExtData/clip1.mp3": "audio"})
	sum := sha256.Sum256([]byte("audio"))
	key := "10/" + hex.EncodeToString(sum[:])[:32] + ".mp3"

	db := scriptedDB()
	db.On(`SELECT "id" FROM corpus WHERE "top_level"`).Rows([]any{int64(10)})
	db.On("DELETE FROM media_files").Rows([]any{key}, []any{"10/0123456789abcdef.wav"})
	db.On("INSERT INTO media_files").Return(int64(1))
	media := &fakeStore{}
	p := New(db, &fakeLocker{}, &extdata.Importer{Store: media, Mime: extdata.Merge(nil)}, Options{TemporaryStaging: true, ExampleQueries: ExampleQueriesFalse})

	res, err := p.Import(context.Background(), Request{Path: dir, Overwrite: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MediaFiles != 1 {
		t.Fatalf("expected one media file, got %d", res.MediaFiles)
	}
	if len(media.promoted) != 1 || media.promoted[0] != key {
		t.Fatalf("expected %s to be promoted, got %v", key, media.promoted)
	}
	if len(media.deleted) != 1 || media.deleted[0] != "10/0123456789abcdef.wav" {
		t.Fatalf("expected only the dropped file to be removed, got %v", media.deleted)
	}
}

func TestImportCancelledBetweenSteps(t *testing.T) {
	db := scriptedDB()
	media := &fakeStore{}
	p := New(db, &fakeLocker{}, &extdata.Importer{Store: media}, Options{TemporaryStaging: true})
	db.On(`CREATE INDEX ON "_edge_annotation"`).Do(func([]any) { p.Cancel() })

	_, err := p.Import(context.Background(), Request{Path: corpusDir(t)})
	if !errors.Is(err, common.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if db.Committed != 0 || db.RolledBack != 1 {
		t.Fatalf("expected rollback only, got %d/%d", db.Committed, db.RolledBack)
	}
	if db.Executed("INSERT INTO node (") || db.Executed("LOCK TABLE") {
		t.Fatalf("expected no statement after the cancelled step")
	}
}

func TestImportKeptStagingIsRepeatable(t *testing.T) {
	db := scriptedDB()
	p := New(db, &fakeLocker{}, nil, Options{ExampleQueries: ExampleQueriesFalse})

	for i := 0; i < 2; i++ {
		if _, err := p.Import(context.Background(), Request{Path: corpusDir(t)}); err != nil {
			t.Fatalf("import %d: unexpected error: %v", i, err)
		}
	}
	if got := db.Count(`CREATE UNLOGGED TABLE "_nodeidmapping"`); got != 2 {
		t.Fatalf("expected the mapping table in both imports, got %d", got)
	}
	drop := db.Index(`DROP TABLE IF EXISTS "_nodeidmapping"`)
	if drop < 0 || drop > db.Index(`CREATE UNLOGGED TABLE "_nodeidmapping"`) {
		t.Fatalf("expected kept mapping table to be dropped before it is created, got %d", drop)
	}
	if db.Executed(`CREATE TEMPORARY TABLE "_nodeidmapping"`) {
		t.Fatalf("expected unlogged staging tables")
	}
}

func TestImportUnknownFormat(t *testing.T) {
	db := dbtest.New()
	p, _ := newPipeline(db, Options{})

	_, err := p.Import(context.Background(), Request{Path: t.TempDir()})
	if !errors.Is(err, common.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if db.Begun != 0 {
		t.Fatalf("expected no transaction, got %d", db.Begun)
	}
}

func TestImportLegacyWidensNodeTable(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for _, tbl := range format.Layout(format.RelANNIS32) {
		files[tbl.Name+".tab"] = ""
	}
	files["node.tab"] = strings.Join([]string{"0", "0", "0", "tiger", "t1", "0", "3", "0", "NULL", "NULL", "NULL", "true", "Das"}, "\t") + "\n"
	writeFiles(t, dir, files)

	db := scriptedDB()
	p, _ := newPipeline(db, Options{ExampleQueries: ExampleQueriesFalse})
	res, err := p.Import(context.Background(), Request{Path: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Version != format.RelANNIS32 {
		t.Fatalf("expected 3.2, got %v", res.Version)
	}
	if !db.Executed(`COPY "_tmpnode"`) || !db.Executed(`INSERT INTO "_node"`) {
		t.Fatalf("expected node table to be widened")
	}
	if !db.Executed(`UPDATE "_rank" SET "id" = "pre"`) {
		t.Fatalf("expected legacy steps to run")
	}
}

func TestImportSideTablesAndGenerator(t *testing.T) {
	dir := corpusDir(t)
	writeFiles(t, dir, map[string]string{
		"resolver_vis_map.annis": "other\tNULL\ttiger\tnode\ttree\tsyntax\t1\tNULL\n",
	})

	db := scriptedDB()
	gen := &fakeGenerator{}
	p, _ := newPipeline(db, Options{})
	p.SetGenerator(gen)

	if _, err := p.Import(context.Background(), Request{Path: dir}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := db.CopyRows[format.TableResolverVisMap]
	if len(rows) != 1 {
		t.Fatalf("expected one resolver row, got %d", len(rows))
	}
	if rows[0][0] != "pcc2" || rows[0][6] != "hidden" || rows[0][7] != 1 {
		t.Fatalf("unexpected resolver row %v", rows[0])
	}
	if len(gen.calls) != 1 || gen.calls[0] != "pcc2" {
		t.Fatalf("expected generation for a corpus without example queries, got %v", gen.calls)
	}
}

func TestDelete(t *testing.T) {
	t.Run("removes corpus and media", func(t *testing.T) {
		db := dbtest.New()
		db.On(`SELECT "id" FROM corpus WHERE "top_level"`).Rows([]any{int64(4)})
		db.On("DELETE FROM media_files").Rows([]any{"4/x.wav"})
		media := &fakeStore{}
		p := New(db, &fakeLocker{}, &extdata.Importer{Store: media}, Options{})

		ids, err := p.Delete(context.Background(), []string{"tiger"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ids) != 1 || ids[0] != 4 {
			t.Fatalf("expected [4], got %v", ids)
		}
		if db.Committed != 1 || !db.Executed("DELETE FROM corpus_properties") {
			t.Fatalf("expected committed deletion")
		}
		if len(media.deleted) != 1 {
			t.Fatalf("expected media removal, got %v", media.deleted)
		}
	})

	t.Run("unknown corpus", func(t *testing.T) {
		db := dbtest.New()
		p := New(db, &fakeLocker{}, nil, Options{})
		_, err := p.Delete(context.Background(), []string{"missing"})
		if !errors.Is(err, corpus.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if db.Committed != 0 {
			t.Fatalf("expected no commit")
		}
	})
}
