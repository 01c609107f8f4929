package extdata

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/relannis/internal/dbtest"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
)

type memStore struct {
	mu         sync.Mutex
	staged     map[string]map[string][]byte
	objects    map[string][]byte
	discarded  []string
	promoteErr error
}

func newMemStore() *memStore {
	return &memStore{staged: map[string]map[string][]byte{}, objects: map[string][]byte{}}
}

func (m *memStore) Stage(_ context.Context, importID, key string, r io.ReadSeeker, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged[importID] == nil {
		m.staged[importID] = map[string][]byte{}
	}
	m.staged[importID][key] = data
	return nil
}

func (m *memStore) Promote(_ context.Context, importID string, keys []string) error {
	if m.promoteErr != nil {
		return m.promoteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.objects[k] = m.staged[importID][k]
	}
	delete(m.staged, importID)
	return nil
}

func (m *memStore) Discard(_ context.Context, importID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, importID)
	m.discarded = append(m.discarded, importID)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func writeMedia(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, "ExtData", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestImportRewritesMarker(t *testing.T) {
	dir := t.TempDir()
	writeMedia(t, dir, map[string]string{"clip1.mp3": "ID3 audio"})

	db := dbtest.New()
	db.On("INSERT INTO media_files").Return(int64(17))
	db.On(`SELECT DISTINCT "value"`).Rows([]any{"[ExtFile]clip1.mp3"})
	ms := newMemStore()
	im := &Importer{Store: ms, Mime: Merge(nil)}

	batch, err := im.Import(context.Background(), db, statement.New(), "imp1", dir, "pcc2", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Files) != 1 || batch.Files[0].ID != 17 {
		t.Fatalf("unexpected batch %+v", batch.Files)
	}

	insert, _ := db.Find("INSERT INTO media_files")
	if insert.Args[2] != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %v", insert.Args[2])
	}
	if insert.Args[1] != "pcc2" || insert.Args[3] != "clip1.mp3" {
		t.Fatalf("unexpected media row %v", insert.Args)
	}
	key := insert.Args[0].(string)
	if !strings.HasPrefix(key, "4/") || !strings.HasSuffix(key, ".mp3") {
		t.Fatalf("unexpected storage key %s", key)
	}

	rewrite, ok := db.Find(`UPDATE "_node_annotation"`)
	if !ok {
		t.Fatalf("expected annotation rewrite")
	}
	if rewrite.Args[0] != "17" || rewrite.Args[1] != "[ExtFile]clip1.mp3" {
		t.Fatalf("unexpected rewrite args %v", rewrite.Args)
	}

	if _, ok := ms.staged["imp1"][key]; !ok {
		t.Fatalf("expected file to be staged")
	}
	if len(ms.objects) != 0 {
		t.Fatalf("nothing may be visible before commit")
	}
	batch.Commit(context.Background())
	if string(ms.objects[key]) != "ID3 audio" {
		t.Fatalf("expected promoted object, got %v", ms.objects)
	}
}

func TestImportSkipsUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	writeMedia(t, dir, map[string]string{"notes.xyz": "?", "doc1/video.mp4": "mp4"})

	db := dbtest.New()
	db.On("INSERT INTO media_files").Return(int64(1))
	db.On(`SELECT DISTINCT "value"`).Rows([]any{"[ExtFile]notes.xyz"})
	im := &Importer{Store: newMemStore(), Mime: Merge(nil)}

	batch, err := im.Import(context.Background(), db, statement.New(), "imp", dir, "pcc2", 0)
	if err != nil {
		t.Fatalf("unknown extensions must not fail the import: %v", err)
	}
	if len(batch.Files) != 1 || batch.Files[0].CorpusPath != "pcc2/doc1" {
		t.Fatalf("expected only the document video, got %+v", batch.Files)
	}
	if db.Executed(`UPDATE "_node_annotation"`) {
		t.Fatalf("expected unknown reference to stay untouched")
	}
}

func TestImportMissingReferencedFile(t *testing.T) {
	db := dbtest.New()
	db.On(`SELECT DISTINCT "value"`).Rows([]any{"[ExtFile]missing.wav"})
	im := &Importer{Store: newMemStore(), Mime: Merge(nil)}

	_, err := im.Import(context.Background(), db, statement.New(), "imp", t.TempDir(), "pcc2", 0)
	var fileErr *common.FileAccessError
	if !errors.As(err, &fileErr) {
		t.Fatalf("expected FileAccessError, got %v", err)
	}
	if !strings.HasSuffix(fileErr.Path, filepath.Join("ExtData", "missing.wav")) {
		t.Fatalf("unexpected path %s", fileErr.Path)
	}
}

func TestAbortDiscardsStagedFiles(t *testing.T) {
	ms := newMemStore()
	b := &Batch{ImportID: "imp9", store: ms}
	b.Abort(context.Background())
	if !slices.Equal(ms.discarded, []string{"imp9"}) {
		t.Fatalf("expected discard of imp9, got %v", ms.discarded)
	}
}

func TestCommitFailureIsNotFatal(t *testing.T) {
	ms := newMemStore()
	ms.promoteErr = errors.New("bucket gone")
	b := &Batch{ImportID: "imp", store: ms, Files: []File{{Key: "1/a.mp3"}}}
	b.Commit(context.Background())
}

func TestSupersededKeepsRewrittenKeys(t *testing.T) {
	b := &Batch{Files: []File{{Key: "10/aa.mp3"}, {Key: "10/bb.wav"}}}
	got := b.Superseded([]string{"10/aa.mp3", "10/cc.ogg", "10/cc.ogg", "10/bb.wav"})
	if !slices.Equal(got, []string{"10/cc.ogg"}) {
		t.Fatalf("expected [10/cc.ogg], got %v", got)
	}

	var none *Batch
	got = none.Superseded([]string{"3/x.mp3"})
	if !slices.Equal(got, []string{"3/x.mp3"}) {
		t.Fatalf("expected [3/x.mp3] without a batch, got %v", got)
	}
}

func TestResolve(t *testing.T) {
	files := []File{
		{Rel: "doc1/a.mp3", ID: 1},
		{Rel: "a.mp3", ID: 2},
		{Rel: "doc2/b.wav", ID: 3},
	}
	tests := []struct {
		name string
		ref  string
		id   int64
		ok   bool
	}{
		{name: "relative path", ref: "doc1/a.mp3", id: 1, ok: true},
		{name: "bare name prefers top level", ref: "a.mp3", id: 2, ok: true},
		{name: "bare name in document", ref: "b.wav", id: 3, ok: true},
		{name: "windows separators", ref: `doc2\b.wav`, id: 3, ok: true},
		{name: "missing", ref: "c.ogg", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := Resolve(files, tt.ref)
			if ok != tt.ok || (ok && f.ID != tt.id) {
				t.Fatalf("expected (%d, %v), got (%d, %v)", tt.id, tt.ok, f.ID, ok)
			}
		})
	}
}

func TestCleanupRemovesOrphans(t *testing.T) {
	ms := newMemStore()
	ms.objects["1/a.mp3"] = nil
	ms.objects["2/b.mp3"] = nil
	db := dbtest.New()
	db.On("FROM media_files").Rows([]any{"1/a.mp3"})

	n, err := Cleanup(context.Background(), db, ms)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one orphan, got %d", n)
	}
	if _, ok := ms.objects["1/a.mp3"]; !ok {
		t.Fatalf("referenced object must survive")
	}
}

func TestMimeMerge(t *testing.T) {
	m := Merge(map[string]string{".EAF": "text/xml"})
	if mt, ok := m.Lookup("session.eaf"); !ok || mt != "text/xml" {
		t.Fatalf("expected configured type, got %q", mt)
	}
	if mt, _ := m.Lookup("CLIP.MP3"); mt != "audio/mpeg" {
		t.Fatalf("expected case insensitive lookup, got %q", mt)
	}
}
