package importer

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

var resolverColumns = []string{
	"corpus", "version", "namespace", "element", "vis_type", "display_name", "visibility", "order", "mappings",
}

const (
	resolverVisibilityIndex = 6
	defaultVisibility       = "hidden"
)

// importResolverMap loads the visualizer mapping of the corpus. Entries are
// always bound to the imported corpus, and the visibility column missing
// from older exports defaults to hidden.
func importResolverMap(ctx context.Context, conn store.Conn, dir string, v format.Version, corpus string) (int64, error) {
	path := format.Table{Name: format.TableResolverVisMap}.FileName(dir, v)

	var rows [][]any
	err := format.ReadTabFile(path, func(line int, fields []format.Field) error {
		if len(fields) == len(resolverColumns)-1 {
			fields = slices.Insert(fields, resolverVisibilityIndex, format.Field{Value: defaultVisibility})
		}
		if len(fields) != len(resolverColumns) {
			logger.Warn("[Import] Skipping malformed resolver entry", "file", path, "line", line, "columns", len(fields))
			return nil
		}
		if fields[0].Null || fields[0].Value != corpus {
			logger.Warn("[Import] Resolver entry references wrong corpus and was rewritten", "line", line, "corpus", fields[0].Value)
			fields[0] = format.Field{Value: corpus}
		}

		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = f.Any()
		}
		if !fields[7].Null {
			order, err := strconv.Atoi(fields[7].Value)
			if err != nil {
				logger.Warn("[Import] Skipping resolver entry with invalid order", "line", line, "order", fields[7].Value)
				return nil
			}
			row[7] = order
		}
		rows = append(rows, row)
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("[Import] No resolver file", "file", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := conn.CopyFrom(ctx, pgx.Identifier{format.TableResolverVisMap}, resolverColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, common.DBError("import resolver entries", err)
	}
	logger.Info("[Import] Imported resolver entries", "entries", n)
	return n, nil
}

// importExampleQueries loads the shipped example queries. Lines carry the
// query and its description, optionally followed by a corpus name that is
// ignored in favour of the imported corpus.
func importExampleQueries(ctx context.Context, conn store.Conn, dir string, v format.Version, corpusID int64) (int64, error) {
	path := format.Table{Name: format.TableExampleQueries}.FileName(dir, v)

	var rows [][]any
	err := format.ReadTabFile(path, func(line int, fields []format.Field) error {
		if len(fields) < 2 || fields[0].Null {
			logger.Warn("[Import] Skipping malformed example query", "file", path, "line", line)
			return nil
		}
		rows = append(rows, []any{corpusID, fields[0].Value, fields[1].Any()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("[Import] No example queries file", "file", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := conn.CopyFrom(ctx, pgx.Identifier{format.TableExampleQueries}, []string{"toplevel_corpus", "query", "description"}, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, common.DBError("import example queries", err)
	}
	logger.Info("[Import] Imported example queries", "queries", n)
	return n, nil
}

const aliasSQL = `INSERT INTO corpus_alias ("alias", "corpus") VALUES ($1, $2) ON CONFLICT DO NOTHING`

func addAlias(ctx context.Context, conn store.Conn, alias, corpus string) error {
	if alias == "" {
		return nil
	}
	if _, err := conn.Exec(ctx, aliasSQL, alias, corpus); err != nil {
		return common.DBError("add corpus alias", err)
	}
	logger.Info("[Import] Registered alias", "alias", alias, "corpus", corpus)
	return nil
}
