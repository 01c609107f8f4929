// Package facts builds the per-corpus denormalized table the query engine
// scans for graph pattern matches.
package facts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// DefaultStatisticsTarget is the configured minimum planner sample size.
const DefaultStatisticsTarget = 250

// Options tune the planner statistics of a facts table.
type Options struct {
	// StatisticsTarget is a lower bound; the server default wins if higher.
	StatisticsTarget int
	// DistinctTokenOverride pins n_distinct of left_token and right_token to
	// the average highest token index per text.
	DistinctTokenOverride bool
}

// Columns with skewed distributions that get the raised statistics target.
var tunedColumns = []string{
	"id", "text_ref", "corpus_ref", "token_index", "left_token", "right_token",
	"pre", "post", "level", "edge_name", "node_anno_name", "node_anno_value",
}

const selectFacts = `
SELECT
  n."id", n."text_ref", n."corpus_ref", n."toplevel_corpus",
  n."layer" AS "node_namespace", n."name" AS "node_name",
  n."left", n."right", n."token_index", n."left_token", n."right_token",
  n."seg_index", n."seg_name", n."span", n."root", n."continuous",
  r."id" AS "rank_id", r."pre", r."post", r."parent", r."level", r."root" AS "rank_root",
  c."id" AS "component_id", c."type" AS "edge_type", c."layer" AS "edge_namespace", c."name" AS "edge_name",
  na."namespace" AS "node_anno_namespace", na."name" AS "node_anno_name", na."value" AS "node_anno_value",
  ea."namespace" AS "edge_anno_namespace", ea."name" AS "edge_anno_name", ea."value" AS "edge_anno_value",
  row_number() OVER (PARTITION BY n."id") = 1 AS "n_sample",
  row_number() OVER (PARTITION BY n."id", r."id") = 1 AS "n_r_c_sample"
FROM node n
LEFT JOIN rank r ON r."node_ref" = n."id" AND r."toplevel_corpus" = %[1]d
LEFT JOIN component c ON c."id" = r."component_ref" AND c."toplevel_corpus" = %[1]d
LEFT JOIN node_annotation na ON na."node_ref" = n."id" AND na."toplevel_corpus" = %[1]d
LEFT JOIN edge_annotation ea ON ea."rank_ref" = r."id" AND ea."toplevel_corpus" = %[1]d
WHERE n."toplevel_corpus" = %[1]d`

var factIndexes = [][]string{
	{"id"},
	{"corpus_ref"},
	{"text_ref", "left_token", "right_token"},
	{"component_id", "pre", "post"},
	{"node_anno_name", "node_anno_value"},
	{"edge_anno_name", "edge_anno_value"},
}

const (
	defaultTargetSQL = `SHOW default_statistics_target`
	avgMaxTokenSQL   = `
SELECT COALESCE(avg(l)::integer, 0), COALESCE(avg(r)::integer, 0)
FROM (SELECT max("left_token") AS l, max("right_token") AS r FROM %s GROUP BY "corpus_ref", "text_ref") t`
)

// StatisticsTarget returns max(configured, server default).
func StatisticsTarget(ctx context.Context, conn store.Conn, configured int) (int, error) {
	var raw string
	if err := conn.QueryRow(ctx, defaultTargetSQL).Scan(&raw); err != nil {
		return 0, common.DBError("read default statistics target", err)
	}
	def, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, common.DBError("read default statistics target", fmt.Errorf("unexpected value %q", raw))
	}
	return max(configured, def), nil
}

// Build creates, fills, indexes and analyzes facts_<corpusID>. An existing
// table of that name is replaced.
func Build(ctx context.Context, conn store.Conn, tok statement.Token, corpusID int64, opts Options) (int64, error) {
	start := time.Now()
	table := store.Ident(store.FactsTable(corpusID))

	target, err := StatisticsTarget(ctx, conn, opts.StatisticsTarget)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(selectFacts, corpusID)
	alters := make([]string, len(tunedColumns))
	for i, col := range tunedColumns {
		alters[i] = fmt.Sprintf("ALTER COLUMN %s SET STATISTICS %d", store.Ident(col), target)
	}

	prepare := []string{
		"DROP TABLE IF EXISTS " + table,
		fmt.Sprintf("CREATE TABLE %s AS %s WITH NO DATA", table, query),
		fmt.Sprintf("ALTER TABLE %s %s", table, strings.Join(alters, ", ")),
	}
	for _, sql := range prepare {
		if err := tok.Check("create_facts"); err != nil {
			return 0, err
		}
		if _, err := conn.Exec(ctx, sql); err != nil {
			return 0, common.DBError("create facts table", err)
		}
	}

	if err := tok.Check("create_facts"); err != nil {
		return 0, err
	}
	tag, err := conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s %s", table, query))
	if err != nil {
		return 0, common.DBError("fill facts table", err)
	}

	for _, cols := range factIndexes {
		if err := tok.Check("create_facts"); err != nil {
			return 0, err
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE INDEX ON %s (%s)", table, store.Idents(cols))); err != nil {
			return 0, common.DBError("index facts table", err)
		}
	}

	if opts.DistinctTokenOverride {
		if err := overrideDistinctTokens(ctx, conn, table); err != nil {
			return 0, err
		}
	}

	if err := tok.Check("analyze_facts"); err != nil {
		return 0, err
	}
	if _, err := conn.Exec(ctx, "ANALYZE "+table); err != nil {
		return 0, common.DBError("analyze facts table", err)
	}

	logger.Info("[Facts] Built facts table", "table", store.FactsTable(corpusID), "rows", tag.RowsAffected(),
		"statistics_target", target, "duration", time.Since(start))
	return tag.RowsAffected(), nil
}

// overrideDistinctTokens pins the planner's distinct estimate of the token
// boundary columns, which sampling badly underestimates on large corpora.
func overrideDistinctTokens(ctx context.Context, conn store.Conn, table string) error {
	var left, right int64
	if err := conn.QueryRow(ctx, fmt.Sprintf(avgMaxTokenSQL, table)).Scan(&left, &right); err != nil {
		return common.DBError("estimate distinct tokens", err)
	}
	var clauses []string
	if left > 0 {
		clauses = append(clauses, fmt.Sprintf(`ALTER COLUMN "left_token" SET (n_distinct = %d)`, left))
	}
	if right > 0 {
		clauses = append(clauses, fmt.Sprintf(`ALTER COLUMN "right_token" SET (n_distinct = %d)`, right))
	}
	if len(clauses) == 0 {
		return nil
	}
	sql := fmt.Sprintf("ALTER TABLE %s %s", table, strings.Join(clauses, ", "))
	if _, err := conn.Exec(ctx, sql); err != nil {
		return common.DBError("override distinct tokens", err)
	}
	logger.Debug("[Facts] Pinned distinct token estimate", "table", table, "left_token", left, "right_token", right)
	return nil
}
