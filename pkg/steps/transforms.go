package steps

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

var constraintsSQL = []string{
	`ALTER TABLE "_corpus" ADD PRIMARY KEY ("id")`,
	`ALTER TABLE "_corpus" ALTER COLUMN "name" SET NOT NULL, ALTER COLUMN "pre" SET NOT NULL,
		ALTER COLUMN "post" SET NOT NULL, ALTER COLUMN "top_level" SET NOT NULL, ADD CHECK ("pre" < "post")`,
	`ALTER TABLE "_corpus_annotation" ADD FOREIGN KEY ("corpus_ref") REFERENCES "_corpus" ("id")`,
	`ALTER TABLE "_text" ADD PRIMARY KEY ("corpus_ref", "id"), ADD FOREIGN KEY ("corpus_ref") REFERENCES "_corpus" ("id")`,
	`ALTER TABLE "_node" ADD PRIMARY KEY ("id"), ADD CHECK ("id" >= 0),
		ADD FOREIGN KEY ("corpus_ref") REFERENCES "_corpus" ("id")`,
	`ALTER TABLE "_node_annotation" ADD FOREIGN KEY ("node_ref") REFERENCES "_node" ("id")`,
	`ALTER TABLE "_component" ADD PRIMARY KEY ("id")`,
	`ALTER TABLE "_rank" ADD PRIMARY KEY ("id"), ADD FOREIGN KEY ("node_ref") REFERENCES "_node" ("id"),
		ADD FOREIGN KEY ("component_ref") REFERENCES "_component" ("id"),
		ADD FOREIGN KEY ("parent") REFERENCES "_rank" ("id")`,
	`ALTER TABLE "_edge_annotation" ADD FOREIGN KEY ("rank_ref") REFERENCES "_rank" ("id")`,
}

func applyConstraints(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "apply_constraints", constraintsSQL...)
}

var indexesSQL = []string{
	`CREATE INDEX ON "_corpus_annotation" ("corpus_ref")`,
	`CREATE INDEX ON "_node" ("corpus_ref")`,
	`CREATE INDEX ON "_node" ("text_ref")`,
	`CREATE INDEX ON "_node_annotation" ("node_ref")`,
	`CREATE INDEX ON "_rank" ("node_ref")`,
	`CREATE INDEX ON "_rank" ("component_ref", "pre", "post")`,
	`CREATE INDEX ON "_edge_annotation" ("rank_ref")`,
}

func createIndexes(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "create_staging_indexes", indexesSQL...)
}

func analyzeStaging(ctx context.Context, conn store.Conn, st *State, tok statement.Token) error {
	tables := format.Layout(st.Version)
	stmts := make([]string, len(tables))
	for i, t := range tables {
		stmts[i] = "ANALYZE " + store.Ident(t.StagingName())
	}
	return execAll(ctx, conn, tok, "analyze_staging", stmts...)
}

const documentNameSQL = `
INSERT INTO "_corpus_annotation" ("corpus_ref", "namespace", "name", "value")
SELECT c."id", 'annis', 'doc', c."name"
FROM "_corpus" c
WHERE c."type" = 'DOCUMENT'
  AND NOT EXISTS (
    SELECT 1 FROM "_corpus_annotation" a
    WHERE a."corpus_ref" = c."id" AND a."namespace" = 'annis' AND a."name" = 'doc'
  )`

func addDocumentNameMetadata(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "add_document_name_metadata", documentNameSQL)
}

const (
	topLevelSQL      = `UPDATE "_corpus" SET "top_level" = ("pre" = (SELECT min("pre") FROM "_corpus"))`
	countTopLevelSQL = `SELECT count(*) FROM "_corpus" WHERE "top_level"`
)

func computeTopLevelCorpus(ctx context.Context, conn store.Conn, st *State, tok statement.Token) error {
	if err := execAll(ctx, conn, tok, "compute_toplevel_corpus", topLevelSQL); err != nil {
		return err
	}
	var n int64
	if err := conn.QueryRow(ctx, countTopLevelSQL).Scan(&n); err != nil {
		return fmt.Errorf("failed to count top-level corpora: %w", err)
	}
	if n != 1 {
		return &common.FormatError{Path: st.Dir, Reason: fmt.Sprintf("expected exactly one top-level corpus, found %d", n)}
	}
	return nil
}

// Legacy rank rows are identified by their pre value; parent and rank_ref
// already point at it.
const rankIDSQL = `UPDATE "_rank" SET "id" = "pre"`

func adjustRankPrePost(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "adjust_rank_prepost", rankIDSQL)
}

const (
	spanBoundariesSQL = `
UPDATE "_node" AS n
SET "left_token" = b.lt, "right_token" = b.rt
FROM (
  SELECT rn."node_ref" AS id, min(t."token_index") AS lt, max(t."token_index") AS rt
  FROM "_rank" rn
  JOIN "_component" c ON c."id" = rn."component_ref" AND c."type" IN ('c', 'd')
  JOIN "_rank" rt ON rt."component_ref" = rn."component_ref"
                 AND rt."pre" >= rn."pre" AND rt."post" <= rn."post"
  JOIN "_node" t ON t."id" = rt."node_ref" AND t."token_index" IS NOT NULL
  GROUP BY rn."node_ref"
) AS b
WHERE n."id" = b.id AND n."token_index" IS NULL`
	tokenBoundariesSQL = `
UPDATE "_node" SET "left_token" = "token_index", "right_token" = "token_index"
WHERE "token_index" IS NOT NULL`
	uncoveredSpansSQL = `
SELECT count(*) FROM "_node"
WHERE "token_index" IS NULL AND ("left_token" IS NULL OR "right_token" IS NULL)`
)

// computeTokenBoundaries derives left/right token indexes of spans from the
// tokens they reach over coverage and dominance edges.
func computeTokenBoundaries(ctx context.Context, conn store.Conn, st *State, tok statement.Token) error {
	if err := execAll(ctx, conn, tok, "compute_left_right_token", tokenBoundariesSQL, spanBoundariesSQL); err != nil {
		return err
	}
	var uncovered int64
	if err := conn.QueryRow(ctx, uncoveredSpansSQL).Scan(&uncovered); err != nil {
		return fmt.Errorf("failed to check span coverage: %w", err)
	}
	if uncovered > 0 {
		return &common.FormatError{Path: st.Dir, Reason: fmt.Sprintf("%d span nodes cover no token", uncovered)}
	}
	return nil
}

const (
	tokenContinuousSQL = `UPDATE "_node" SET "continuous" = true WHERE "token_index" IS NOT NULL`
	spanContinuousSQL  = `
UPDATE "_node" AS n
SET "continuous" = (b.covered = n."right_token" - n."left_token" + 1)
FROM (
  SELECT rn."node_ref" AS id, count(DISTINCT t."token_index") AS covered
  FROM "_rank" rn
  JOIN "_component" c ON c."id" = rn."component_ref" AND c."type" IN ('c', 'd')
  JOIN "_rank" rt ON rt."component_ref" = rn."component_ref"
                 AND rt."pre" >= rn."pre" AND rt."post" <= rn."post"
  JOIN "_node" t ON t."id" = rt."node_ref" AND t."token_index" IS NOT NULL
  GROUP BY rn."node_ref"
) AS b
WHERE n."id" = b.id AND n."token_index" IS NULL`
	analyzeNodeSQL = `ANALYZE "_node"`
	// unannotated token edges below continuous spans
	spanRelationsSQL = `
DELETE FROM "_rank" AS r
USING "_component" c, "_rank" p, "_node" span, "_node" t
WHERE c."id" = r."component_ref" AND c."type" = 'c' AND c."name" IS NULL
  AND p."id" = r."parent" AND span."id" = p."node_ref" AND span."continuous"
  AND t."id" = r."node_ref" AND t."token_index" IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM "_edge_annotation" e WHERE e."rank_ref" = r."id")
  AND NOT EXISTS (SELECT 1 FROM "_rank" ch WHERE ch."parent" = r."id")`
)

// setContinuous marks spans whose covered tokens have no gap and drops the
// coverage edges such spans no longer need.
func setContinuous(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "set_continuous", tokenContinuousSQL, spanContinuousSQL, analyzeNodeSQL, spanRelationsSQL)
}

const (
	duplicateNamesSQL = `
SELECT EXISTS (
  SELECT 1 FROM "_node" GROUP BY "corpus_ref", "name" HAVING count(*) > 1
)`
	uniqueNamesSQL = `
UPDATE "_node" AS n
SET "name" = n."name" || '_' || n."id"
FROM (
  SELECT "id", row_number() OVER (PARTITION BY "corpus_ref", "name" ORDER BY "id") AS rn
  FROM "_node"
) AS d
WHERE n."id" = d."id" AND d.rn > 1`
)

func uniqueNodeNames(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	var duplicates bool
	if err := conn.QueryRow(ctx, duplicateNamesSQL).Scan(&duplicates); err != nil {
		return fmt.Errorf("failed to check node names: %w", err)
	}
	if !duplicates {
		logger.Debug("[Steps] Node names are unique, skipping appendix")
		return nil
	}
	return execAll(ctx, conn, tok, "unique_node_name_appendix", uniqueNamesSQL)
}

const (
	textCorpusSQL = `
UPDATE "_text" AS t SET "corpus_ref" = n."corpus_ref"
FROM (SELECT "text_ref", min("corpus_ref") AS "corpus_ref" FROM "_node" GROUP BY "text_ref") AS n
WHERE t."id" = n."text_ref"`
	orphanTextSQL = `
UPDATE "_text" SET "corpus_ref" = (SELECT "id" FROM "_corpus" WHERE "top_level" LIMIT 1)
WHERE "corpus_ref" IS NULL`
)

func adjustTextID(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "adjust_text_id", textCorpusSQL, orphanTextSQL)
}

const realRootSQL = `
UPDATE "_node" AS n SET "root" = NOT EXISTS (
  SELECT 1 FROM "_rank" r WHERE r."node_ref" = n."id" AND r."parent" IS NOT NULL
)`

func computeRealRoot(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "compute_real_root", realRootSQL)
}

// Component graphs are acyclic by contract; a cycle is not detected here.
const levelSQL = `
WITH RECURSIVE depth("id", "level") AS (
  SELECT "id", 0 FROM "_rank" WHERE "parent" IS NULL
  UNION ALL
  SELECT c."id", d."level" + 1 FROM "_rank" c JOIN depth d ON c."parent" = d."id"
)
UPDATE "_rank" AS r SET "level" = d."level" FROM depth d WHERE r."id" = d."id"`

func computeLevel(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "compute_level", levelSQL)
}

const spanFromSegmentationSQL = `
UPDATE "_node" AS n SET "span" = a."value"
FROM "_node_annotation" a
WHERE a."node_ref" = n."id" AND a."name" = n."seg_name"
  AND n."seg_name" IS NOT NULL AND n."span" IS NULL`

// spanFromSegmentation copies the segmentation annotation of segmentation
// nodes into their span text.
func spanFromSegmentation(ctx context.Context, conn store.Conn, _ *State, tok statement.Token) error {
	return execAll(ctx, conn, tok, "span_from_segmentation", spanFromSegmentationSQL)
}
