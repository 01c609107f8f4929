// Package extdata imports the media files an import directory ships and
// rewrites annotation references to them.
package extdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// Marker prefixes annotation values that reference a media file.
const Marker = "[ExtFile]"

// Store is managed media storage with import-scoped staging. Staged objects
// become visible only through Promote.
type Store interface {
	Stage(ctx context.Context, importID, key string, r io.ReadSeeker, mimeType string) error
	Promote(ctx context.Context, importID string, keys []string) error
	Discard(ctx context.Context, importID string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// File is one media file found in an import directory.
type File struct {
	Path       string
	Rel        string
	CorpusPath string
	MimeType   string
	Key        string
	ID         int64
}

// Batch is the media staged by one import, waiting for the transaction
// outcome.
type Batch struct {
	ImportID string
	Files    []File
	store    Store
}

// Keys are the storage keys of the batch.
func (b *Batch) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		keys = append(keys, f.Key)
	}
	return store.DedupeStrings(keys)
}

// Superseded filters keys down to those the batch does not write again.
// Content addressed keys of a replaced corpus can equal the new ones.
func (b *Batch) Superseded(keys []string) []string {
	own := b.Keys()
	var out []string
	for _, key := range store.DedupeStrings(keys) {
		if !slices.Contains(own, key) {
			out = append(out, key)
		}
	}
	return out
}

// Commit promotes the staged files after the database commit. A failure here
// cannot be rolled back anymore and is reported as a warning.
func (b *Batch) Commit(ctx context.Context) {
	if b == nil || len(b.Files) == 0 {
		return
	}
	if err := b.store.Promote(ctx, b.ImportID, b.Keys()); err != nil {
		warn := &common.CancellationRaceWarning{Key: b.ImportID, Err: err}
		logger.Warn("[ExtData] Media promotion failed after commit", "code", "cancellation_race", "import_id", b.ImportID, "err", warn)
	}
}

// Abort throws the staged files away after a rollback.
func (b *Batch) Abort(ctx context.Context) {
	if b == nil || b.store == nil {
		return
	}
	if err := b.store.Discard(ctx, b.ImportID); err != nil {
		warn := &common.CancellationRaceWarning{Key: b.ImportID, Err: err}
		logger.Warn("[ExtData] Staged media left behind after rollback", "code", "cancellation_race", "import_id", b.ImportID, "err", warn)
	}
}

// Importer copies media into a Store.
type Importer struct {
	Store       Store
	Mime        MimeTypes
	HashWorkers int
}

const (
	insertMediaSQL = `
INSERT INTO media_files ("filename", "corpus_path", "mime_type", "title", "toplevel_corpus")
VALUES ($1, $2, $3, $4, $5) RETURNING "id"`
	markersSQL    = `SELECT DISTINCT "value" FROM "_node_annotation" WHERE "value" LIKE '[ExtFile]%'`
	rewriteSQL    = `UPDATE "_node_annotation" SET "value" = $1 WHERE "value" = $2`
	referencedSQL = `SELECT DISTINCT "filename" FROM media_files`
)

// Import stages every known media file of dir, records it in the media
// lookup table and replaces marker values with the media id.
func (im *Importer) Import(ctx context.Context, conn store.Conn, tok statement.Token, importID, dir, topLevel string, corpusID int64) (*Batch, error) {
	start := time.Now()
	batch := &Batch{ImportID: importID, store: im.Store}

	files, err := im.scan(dir, topLevel)
	if err != nil {
		return batch, err
	}
	if err := im.hash(ctx, files, corpusID); err != nil {
		return batch, err
	}

	for i := range files {
		if err := tok.Check("import_binary_data"); err != nil {
			return batch, err
		}
		f := &files[i]
		if err := im.stage(ctx, importID, f); err != nil {
			return batch, err
		}
		title := filepath.Base(f.Path)
		if err := conn.QueryRow(ctx, insertMediaSQL, f.Key, f.CorpusPath, f.MimeType, title, corpusID).Scan(&f.ID); err != nil {
			return batch, common.DBError("insert media file", err)
		}
		batch.Files = append(batch.Files, *f)
	}

	rewritten, err := im.rewrite(ctx, conn, tok, dir, files)
	if err != nil {
		return batch, err
	}
	logger.Info("[ExtData] Imported media files", "files", len(files), "references", rewritten, "duration", time.Since(start))
	return batch, nil
}

// scan lists ExtData files. Top-level files belong to the corpus itself,
// files in a sub directory to the document of that name.
func (im *Importer) scan(dir, topLevel string) ([]File, error) {
	root := filepath.Join(dir, format.ExtDataDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &common.FileAccessError{Path: root, Err: err}
	}

	var files []File
	add := func(p, rel, corpusPath string) {
		mt, ok := im.Mime.Lookup(p)
		if !ok {
			logger.Warn("[ExtData] Skipping file with unknown extension", "file", rel)
			return
		}
		files = append(files, File{Path: p, Rel: rel, CorpusPath: corpusPath, MimeType: mt})
	}

	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if !e.IsDir() {
			add(p, e.Name(), topLevel)
			continue
		}
		docEntries, err := os.ReadDir(p)
		if err != nil {
			return nil, &common.FileAccessError{Path: p, Err: err}
		}
		for _, de := range docEntries {
			if de.IsDir() {
				continue
			}
			add(filepath.Join(p, de.Name()), path.Join(e.Name(), de.Name()), topLevel+"/"+e.Name())
		}
	}
	return files, nil
}

// hash names every file by its content so repeated files share one object.
func (im *Importer) hash(ctx context.Context, files []File, corpusID int64) error {
	workers := im.HashWorkers
	if workers <= 0 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		g.Go(func() error {
			sum, err := hashFile(gctx, files[i].Path)
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(files[i].Path))
			files[i].Key = fmt.Sprintf("%d/%s%s", corpusID, sum, ext)
			return nil
		})
	}
	return g.Wait()
}

func hashFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return "", &common.FileAccessError{Path: p, Err: err}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &common.FileAccessError{Path: p, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

func (im *Importer) stage(ctx context.Context, importID string, f *File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return &common.FileAccessError{Path: f.Path, Err: err}
	}
	defer src.Close()
	if err := im.Store.Stage(ctx, importID, f.Key, src, f.MimeType); err != nil {
		return &common.FileAccessError{Path: f.Path, Err: err}
	}
	return nil
}

func (im *Importer) rewrite(ctx context.Context, conn store.Conn, tok statement.Token, dir string, files []File) (int, error) {
	rows, err := conn.Query(ctx, markersSQL)
	if err != nil {
		return 0, common.DBError("read media references", err)
	}
	markers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, common.DBError("read media references", err)
	}

	n := 0
	for _, marker := range markers {
		if err := tok.Check("import_binary_data"); err != nil {
			return n, err
		}
		ref := strings.TrimPrefix(marker, Marker)
		if _, ok := im.Mime.Lookup(ref); !ok {
			logger.Warn("[ExtData] Leaving reference with unknown extension", "value", marker)
			continue
		}
		f, ok := Resolve(files, ref)
		if !ok {
			missing := filepath.Join(dir, format.ExtDataDir, filepath.FromSlash(ref))
			return n, &common.FileAccessError{Path: missing, Err: os.ErrNotExist}
		}
		if _, err := conn.Exec(ctx, rewriteSQL, strconv.FormatInt(f.ID, 10), marker); err != nil {
			return n, common.DBError("rewrite media reference", err)
		}
		n++
	}
	return n, nil
}

// Resolve finds the file a reference names, either by its path relative to
// ExtData or by its bare file name. Top-level files win over document files.
func Resolve(files []File, ref string) (File, bool) {
	ref = path.Clean(strings.ReplaceAll(ref, "\\", "/"))
	if i := slices.IndexFunc(files, func(f File) bool { return f.Rel == ref }); i >= 0 {
		return files[i], true
	}
	var match *File
	for i := range files {
		if path.Base(files[i].Rel) != path.Base(ref) {
			continue
		}
		if match == nil || (!strings.Contains(files[i].Rel, "/") && strings.Contains(match.Rel, "/")) {
			match = &files[i]
		}
	}
	if match == nil {
		return File{}, false
	}
	return *match, true
}

// Remove deletes objects of deleted corpora after their transaction
// committed. Failures leave orphans for Cleanup and are only logged.
func Remove(ctx context.Context, s Store, keys []string) {
	for _, key := range store.DedupeStrings(keys) {
		if err := s.Delete(ctx, key); err != nil {
			warn := &common.CancellationRaceWarning{Key: key, Err: err}
			logger.Warn("[ExtData] Failed to remove media file", "code", "cancellation_race", "key", key, "err", warn)
		}
	}
}

// Cleanup deletes stored objects no media row references.
func Cleanup(ctx context.Context, conn store.Conn, s Store) (int, error) {
	rows, err := conn.Query(ctx, referencedSQL)
	if err != nil {
		return 0, common.DBError("list media files", err)
	}
	referenced, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, common.DBError("list media files", err)
	}
	keep := make(map[string]struct{}, len(referenced))
	for _, k := range referenced {
		keep[k] = struct{}{}
	}

	stored, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list media store: %w", err)
	}
	var orphans []string
	for _, key := range stored {
		if _, ok := keep[key]; !ok {
			orphans = append(orphans, key)
		}
	}

	removed := 0
	err = store.ChunkRange(len(orphans), 100, func(start, end int) error {
		for _, key := range orphans[start:end] {
			if err := s.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
			removed++
		}
		logger.Debug("[ExtData] Cleanup progress", "removed", removed, "orphans", len(orphans))
		return nil
	})
	return removed, err
}
