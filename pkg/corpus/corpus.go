// Package corpus resolves name conflicts between a staged corpus and the
// target schema and removes whole corpus trees.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

var ErrNotFound = errors.New("corpus: not found")

const (
	stagedTopLevelSQL = `
SELECT "name" FROM "_corpus"
WHERE "type" = 'CORPUS'
  AND "pre" = (SELECT min("pre") FROM "_corpus")
  AND "post" = (SELECT max("post") FROM "_corpus")`

	existsSQL = `SELECT count(*) FROM corpus WHERE "top_level" AND "name" = $1`

	findTopLevelSQL = `SELECT "id" FROM corpus WHERE "top_level" AND "name" = $1 ORDER BY "id"`
)

// StagedTopLevelName returns the name of the root of the staged corpus tree.
func StagedTopLevelName(ctx context.Context, conn store.Conn) (string, error) {
	var name string
	if err := conn.QueryRow(ctx, stagedTopLevelSQL).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &common.FormatError{Reason: "staged corpus tree has no root of type CORPUS"}
		}
		return "", common.DBError("read staged top-level corpus", err)
	}
	return name, nil
}

// Check fails with a ConflictingCorpusError if a top-level corpus named name
// already exists.
func Check(ctx context.Context, conn store.Conn, name string) error {
	var n int64
	if err := conn.QueryRow(ctx, existsSQL, name).Scan(&n); err != nil {
		return common.DBError("check top-level corpus", err)
	}
	if n > 0 {
		return &common.ConflictingCorpusError{Name: name}
	}
	return nil
}

// FindTopLevel returns the ids of top-level corpora named name.
func FindTopLevel(ctx context.Context, conn store.Conn, name string) ([]int64, error) {
	rows, err := conn.Query(ctx, findTopLevelSQL, name)
	if err != nil {
		return nil, common.DBError("find top-level corpus", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, common.DBError("find top-level corpus", err)
	}
	return ids, nil
}

// CheckAndRemove deletes an existing corpus of the same name inside the
// caller's transaction. It returns the managed media keys the deleted corpus
// owned, to be removed from storage once the transaction committed.
func CheckAndRemove(ctx context.Context, conn store.Conn, tok statement.Token, name string) ([]string, error) {
	ids, err := FindTopLevel(ctx, conn, name)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	logger.Info("[Corpus] Replacing existing corpus", "name", name, "ids", ids)
	return Delete(ctx, conn, tok, ids)
}

// Target tables keyed by the owning top-level corpus.
var toplevelTables = []string{
	"edge_annotation",
	"rank",
	"component",
	"node_annotation",
	"example_queries",
}

// Tables whose rows belong to a corpus inside the deleted nested-set interval.
var intervalTables = []string{
	"node",
	"text",
	"corpus_annotation",
}

const (
	deleteMediaSQL = `DELETE FROM media_files WHERE "toplevel_corpus" = $1 RETURNING "filename"`
	intervalSQL    = `SELECT c."id" FROM corpus c, corpus t WHERE t."id" = $1 AND c."pre" >= t."pre" AND c."post" <= t."post"`
	deleteStatsSQL = `DELETE FROM corpus_stats WHERE "id" = $1`
	deleteTreeSQL  = `DELETE FROM corpus WHERE "id" IN (` + intervalSQL + `)`
	resolverSQL    = `DELETE FROM resolver_vis_map WHERE "corpus" = (SELECT "name" FROM corpus WHERE "id" = $1)`
	aliasSQL       = `DELETE FROM corpus_alias WHERE "corpus" = (SELECT "name" FROM corpus WHERE "id" = $1)`
)

// Delete removes the given top-level corpora with their whole subtree, every
// row that references them, and their facts tables.
func Delete(ctx context.Context, conn store.Conn, tok statement.Token, ids []int64) ([]string, error) {
	var media []string
	for _, id := range ids {
		start := time.Now()

		keys, err := deleteMedia(ctx, conn, id)
		if err != nil {
			return nil, err
		}
		media = append(media, keys...)

		stmts := make([]string, 0, len(toplevelTables)+len(intervalTables)+5)
		for _, table := range toplevelTables {
			stmts = append(stmts, fmt.Sprintf(`DELETE FROM %s WHERE "toplevel_corpus" = $1`, store.Ident(table)))
		}
		for _, table := range intervalTables {
			stmts = append(stmts, fmt.Sprintf(`DELETE FROM %s WHERE "corpus_ref" IN (%s)`, store.Ident(table), intervalSQL))
		}
		stmts = append(stmts, resolverSQL, aliasSQL, deleteStatsSQL, deleteTreeSQL)

		for _, sql := range stmts {
			if err := tok.Check("delete_corpus"); err != nil {
				return nil, err
			}
			if _, err := conn.Exec(ctx, sql, id); err != nil {
				return nil, common.DBError("delete corpus", err)
			}
		}
		if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+store.Ident(store.FactsTable(id))); err != nil {
			return nil, common.DBError("drop facts table", err)
		}
		logger.Info("[Corpus] Deleted corpus", "id", id, "media_files", len(keys), "duration", time.Since(start))
	}
	return media, nil
}

func deleteMedia(ctx context.Context, conn store.Conn, id int64) ([]string, error) {
	rows, err := conn.Query(ctx, deleteMediaSQL, id)
	if err != nil {
		return nil, common.DBError("delete media files", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, common.DBError("delete media files", err)
	}
	return keys, nil
}

const listSQL = `
SELECT s."id", s."name", s."text", s."tokens", COALESCE(s."source_path", ''), s."import_date", c."pre", c."post"
FROM corpus_stats s JOIN corpus c ON c."id" = s."id"
ORDER BY s."name"`

// List returns every imported top-level corpus with its statistics.
func List(ctx context.Context, conn store.Conn) ([]common.Corpus, error) {
	rows, err := conn.Query(ctx, listSQL)
	if err != nil {
		return nil, common.DBError("list corpora", err)
	}
	defer rows.Close()

	var out []common.Corpus
	for rows.Next() {
		var c common.Corpus
		if err := rows.Scan(&c.ID, &c.Name, &c.Texts, &c.Tokens, &c.SourcePath, &c.ImportedAt, &c.Pre, &c.Post); err != nil {
			return nil, common.DBError("list corpora", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, common.DBError("list corpora", err)
	}
	return out, nil
}

// Get returns one top-level corpus by name.
func Get(ctx context.Context, conn store.Conn, name string) (common.Corpus, error) {
	all, err := List(ctx, conn)
	if err != nil {
		return common.Corpus{}, err
	}
	for _, c := range all {
		if c.Name == name {
			return c, nil
		}
	}
	return common.Corpus{}, ErrNotFound
}
