package offsets

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// NodeColumns is the column order of the target node table.
var NodeColumns = []string{
	"id", "text_ref", "corpus_ref", "toplevel_corpus", "layer", "name", "left", "right",
	"token_index", "left_token", "right_token", "seg_index", "seg_name", "span", "root", "continuous",
}

// Counts summarizes what an import copied into the target schema.
type Counts struct {
	Corpora int64
	Texts   int64
	Nodes   int64
	Edges   int64
}

type insert struct {
	table string
	sql   string
	args  func(corpusID int64, off common.Offsets) []any
}

const corpusInsertSQL = `
INSERT INTO corpus ("id", "name", "type", "version", "pre", "post", "top_level", "path_name")
SELECT c."id" + $1::bigint, c."name", c."type", c."version", c."pre" + $2::bigint, c."post" + $2::bigint, c."top_level",
  ARRAY(SELECT p."name" FROM "_corpus" p WHERE p."pre" <= c."pre" AND p."post" >= c."post" ORDER BY p."pre" DESC)
FROM "_corpus" c`

// NodeSelect renders the projection from a staged node row n joined with its
// mapping row m onto NodeColumns. $1 is the corpus id base, $2 the final
// top-level corpus id. Columns the version does not stage become NULL.
func NodeSelect(v format.Version) (string, error) {
	node, ok := format.Lookup(v, format.TableNode)
	if !ok {
		return "", &common.FormatError{Reason: "no node layout for version " + v.String()}
	}
	exprs := make([]string, len(NodeColumns))
	for i, col := range NodeColumns {
		switch col {
		case "id":
			exprs[i] = `m."new_id"`
		case "corpus_ref":
			exprs[i] = `n."corpus_ref" + $1::bigint`
		case "toplevel_corpus":
			exprs[i] = `$2::bigint`
		default:
			if c, ok := node.Column(col); ok {
				exprs[i] = "n." + store.Ident(c.Name)
			} else {
				exprs[i] = "NULL"
			}
		}
	}
	return fmt.Sprintf(`SELECT %s FROM "_node" n JOIN "_nodeidmapping" m ON m."old_id" = n."id"`, strings.Join(exprs, ", ")), nil
}

func inserts(v format.Version) ([]insert, error) {
	nodeSelect, err := NodeSelect(v)
	if err != nil {
		return nil, err
	}
	baseAndTop := func(id int64, off common.Offsets) []any { return []any{off.CorpusIDBase, id} }
	topOnly := func(id int64, _ common.Offsets) []any { return []any{id} }

	return []insert{
		{
			table: "corpus",
			sql:   corpusInsertSQL,
			args:  func(_ int64, off common.Offsets) []any { return []any{off.CorpusIDBase, off.CorpusPostBase} },
		},
		{
			table: "corpus_annotation",
			sql: `INSERT INTO corpus_annotation ("corpus_ref", "namespace", "name", "value")
SELECT "corpus_ref" + $1::bigint, "namespace", "name", "value" FROM "_corpus_annotation"`,
			args: func(_ int64, off common.Offsets) []any { return []any{off.CorpusIDBase} },
		},
		{
			table: "text",
			sql: `INSERT INTO text ("corpus_ref", "id", "name", "text", "toplevel_corpus")
SELECT "corpus_ref" + $1::bigint, "id", "name", "text", $2::bigint FROM "_text"`,
			args: baseAndTop,
		},
		{
			table: "node",
			sql:   fmt.Sprintf("INSERT INTO node (%s)\n%s", store.Idents(NodeColumns), nodeSelect),
			args:  baseAndTop,
		},
		{
			table: "node_annotation",
			sql: `INSERT INTO node_annotation ("node_ref", "toplevel_corpus", "namespace", "name", "value")
SELECT m."new_id", $1::bigint, a."namespace", a."name", a."value"
FROM "_node_annotation" a JOIN "_nodeidmapping" m ON m."old_id" = a."node_ref"`,
			args: topOnly,
		},
		{
			table: "component",
			sql: `INSERT INTO component ("toplevel_corpus", "id", "type", "layer", "name")
SELECT $1::bigint, "id", "type", "layer", "name" FROM "_component"`,
			args: topOnly,
		},
		{
			table: "rank",
			sql: `INSERT INTO rank ("toplevel_corpus", "id", "pre", "post", "node_ref", "component_ref", "parent", "level", "root")
SELECT $1::bigint, r."id", r."pre", r."post", m."new_id", r."component_ref", r."parent", r."level", r."parent" IS NULL
FROM "_rank" r JOIN "_nodeidmapping" m ON m."old_id" = r."node_ref"`,
			args: topOnly,
		},
		{
			table: "edge_annotation",
			sql: `INSERT INTO edge_annotation ("toplevel_corpus", "rank_ref", "namespace", "name", "value")
SELECT $1::bigint, "rank_ref", "namespace", "name", "value" FROM "_edge_annotation"`,
			args: topOnly,
		},
	}, nil
}

// CopyToTarget moves the staged corpus into the target tables, applying the
// offsets inline and the node id mapping through joins.
func CopyToTarget(ctx context.Context, conn store.Conn, tok statement.Token, v format.Version, corpusID int64, off common.Offsets) (Counts, error) {
	stmts, err := inserts(v)
	if err != nil {
		return Counts{}, err
	}
	var counts Counts
	for _, ins := range stmts {
		if err := tok.Check("insert_" + ins.table); err != nil {
			return counts, err
		}
		tag, err := conn.Exec(ctx, ins.sql, ins.args(corpusID, off)...)
		if err != nil {
			return counts, common.DBError("insert "+ins.table, err)
		}
		switch ins.table {
		case "corpus":
			counts.Corpora = tag.RowsAffected()
		case "text":
			counts.Texts = tag.RowsAffected()
		case "node":
			counts.Nodes = tag.RowsAffected()
		case "rank":
			counts.Edges = tag.RowsAffected()
		}
	}
	return counts, nil
}

const statsSQL = `
INSERT INTO corpus_stats ("name", "id", "text", "tokens", "max_corpus_id", "max_corpus_pre",
  "max_corpus_post", "max_node_id", "source_path", "import_date")
SELECT $1::varchar, $2::bigint,
  (SELECT count(*) FROM "_text"),
  (SELECT count(*) FROM "_node" WHERE "token_index" IS NOT NULL),
  (SELECT max("id") FROM "_corpus") + $3::bigint,
  (SELECT max("pre") FROM "_corpus") + $4::bigint,
  (SELECT max("post") FROM "_corpus") + $4::bigint,
  COALESCE((SELECT max("new_id") FROM "_nodeidmapping"), $5::bigint - 1),
  $6::varchar, now()`

// RecordStatistics writes the bookkeeping row of the new corpus. Its maxima
// are the offsets of the next import.
func RecordStatistics(ctx context.Context, conn store.Conn, name string, corpusID int64, off common.Offsets, sourcePath string) error {
	_, err := conn.Exec(ctx, statsSQL, name, corpusID, off.CorpusIDBase, off.CorpusPostBase, off.NodeIDBase, sourcePath)
	if err != nil {
		return common.DBError("record corpus statistics", err)
	}
	return nil
}
