// Package corpusconfig stores the key/value properties of top-level corpora.
package corpusconfig

import (
	"context"
	"maps"
	"slices"
	"strconv"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

const KeyBrowseDocuments = "browse-documents"

// Defaults is written for a corpus that has no properties yet.
var Defaults = map[string]string{
	"max-context":      "20",
	"default-context":  "5",
	"context-steps":    "5",
	"results-per-page": "10",
}

const (
	getSQL    = `SELECT "key", "value" FROM corpus_properties WHERE "corpus" = $1`
	upsertSQL = `
INSERT INTO corpus_properties ("corpus", "key", "value") VALUES ($1, $2, $3)
ON CONFLICT ("corpus", "key") DO UPDATE SET "value" = EXCLUDED."value"`
	removeSQL = `DELETE FROM corpus_properties WHERE "corpus" = $1`

	// A text is blank when it is empty or consists of whitespace only.
	blankTextSQL = `SELECT EXISTS (SELECT 1 FROM text WHERE "toplevel_corpus" = $1 AND "text" ~ '^\s*$')`
)

// Get returns the properties of a corpus. A corpus without properties yields
// an empty map; a NULL value reads as empty.
func Get(ctx context.Context, conn store.Conn, corpus string) (map[string]string, error) {
	rows, err := conn.Query(ctx, getSQL, corpus)
	if err != nil {
		return nil, common.DBError("read corpus properties", err)
	}
	defer rows.Close()

	props := map[string]string{}
	for rows.Next() {
		var (
			k string
			v *string
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, common.DBError("read corpus properties", err)
		}
		props[k] = ""
		if v != nil {
			props[k] = *v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, common.DBError("read corpus properties", err)
	}
	return props, nil
}

// Set upserts the given properties. Keys not in props are left untouched.
func Set(ctx context.Context, conn store.Conn, corpus string, props map[string]string) error {
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if _, err := conn.Exec(ctx, upsertSQL, corpus, k, props[k]); err != nil {
			return common.DBError("write corpus property "+k, err)
		}
	}
	return nil
}

// Remove drops every property of a corpus.
func Remove(ctx context.Context, conn store.Conn, corpus string) error {
	if _, err := conn.Exec(ctx, removeSQL, corpus); err != nil {
		return common.DBError("remove corpus properties", err)
	}
	return nil
}

// EnsureDefault writes Defaults when the corpus has no properties. It reports
// whether anything was written.
func EnsureDefault(ctx context.Context, conn store.Conn, corpus string) (bool, error) {
	props, err := Get(ctx, conn, corpus)
	if err != nil {
		return false, err
	}
	if len(props) > 0 {
		return false, nil
	}
	if err := Set(ctx, conn, corpus, Defaults); err != nil {
		return false, err
	}
	logger.Debug("[CorpusConfig] Wrote default configuration", "corpus", corpus)
	return true, nil
}

// AnalyzeTexts disables document browsing when a primary text of the corpus
// is blank, unless browsing was switched on explicitly. It reports whether
// the property was changed.
func AnalyzeTexts(ctx context.Context, conn store.Conn, corpus string, corpusID int64) (bool, error) {
	var blank bool
	if err := conn.QueryRow(ctx, blankTextSQL, corpusID).Scan(&blank); err != nil {
		return false, common.DBError("analyze texts", err)
	}
	if !blank {
		return false, nil
	}

	props, err := Get(ctx, conn, corpus)
	if err != nil {
		return false, err
	}
	if raw, ok := props[KeyBrowseDocuments]; ok {
		if on, err := strconv.ParseBool(raw); err == nil && on {
			return false, nil
		}
	}
	if err := Set(ctx, conn, corpus, map[string]string{KeyBrowseDocuments: "false"}); err != nil {
		return false, err
	}
	logger.Info("[CorpusConfig] Disabled document browsing, corpus has blank texts", "corpus", corpus)
	return true, nil
}
