// Package offsets places a staged corpus into the global id space shared by
// all imported corpora and copies it into the target schema.
package offsets

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// MappingTable maps staged node ids to final ones.
const MappingTable = "_nodeidmapping"

// StagingTables is the part of the staging manager the remapper needs.
type StagingTables interface {
	CreateSQL(name string, cols []format.Column) string
	Track(name string)
}

const (
	// Serializes the read-modify-write of the bookkeeping rows against other
	// importers until commit.
	lockStatsSQL = `LOCK TABLE corpus_stats IN EXCLUSIVE MODE`

	offsetsSQL = `
SELECT
  COALESCE((SELECT max(max_corpus_id) + 1 FROM corpus_stats), 0),
  COALESCE((SELECT max(max_corpus_post) + 1 FROM corpus_stats), 0),
  COALESCE((SELECT max(max_node_id) + 1 FROM corpus_stats), 0)`

	topLevelIDSQL = `SELECT max("id") FROM "_corpus" WHERE "top_level"`

	fillMappingSQL = `INSERT INTO "_nodeidmapping" ("old_id", "new_id") SELECT "id", "id" + $1::bigint FROM "_node"`
	mappingKeySQL  = `ALTER TABLE "_nodeidmapping" ADD PRIMARY KEY ("old_id")`
)

// Calculate reads the next free corpus id, corpus post value and node id.
// Every base is 0 on an empty installation.
func Calculate(ctx context.Context, conn store.Conn) (common.Offsets, error) {
	if _, err := conn.Exec(ctx, lockStatsSQL); err != nil {
		return common.Offsets{}, common.DBError("lock corpus_stats", err)
	}
	var off common.Offsets
	if err := conn.QueryRow(ctx, offsetsSQL).Scan(&off.CorpusIDBase, &off.CorpusPostBase, &off.NodeIDBase); err != nil {
		return common.Offsets{}, common.DBError("calculate offsets", err)
	}
	logger.Debug("[Offsets] Calculated offsets",
		"corpus_id", off.CorpusIDBase, "corpus_post", off.CorpusPostBase, "node_id", off.NodeIDBase)
	return off, nil
}

// NewTopLevelCorpusID is the final id of the staged top-level corpus.
func NewTopLevelCorpusID(ctx context.Context, conn store.Conn, off common.Offsets) (int64, error) {
	var id *int64
	if err := conn.QueryRow(ctx, topLevelIDSQL).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &common.FormatError{Reason: "no top-level corpus staged"}
		}
		return 0, common.DBError("read top-level corpus id", err)
	}
	if id == nil {
		return 0, &common.FormatError{Reason: "no top-level corpus staged"}
	}
	return *id + off.CorpusIDBase, nil
}

// CreateNodeIDMapping assigns every staged node id its final id, shifted by
// the node id base.
func CreateNodeIDMapping(ctx context.Context, conn store.Conn, tables StagingTables, off common.Offsets) (int64, error) {
	create := tables.CreateSQL(MappingTable, []format.Column{
		{Name: "old_id", Type: "bigint"},
		{Name: "new_id", Type: "bigint"},
	})
	if _, err := conn.Exec(ctx, create); err != nil {
		return 0, common.DBError("create node id mapping", err)
	}
	tables.Track(MappingTable)

	tag, err := conn.Exec(ctx, fillMappingSQL, off.NodeIDBase)
	if err != nil {
		return 0, common.DBError("fill node id mapping", err)
	}
	if _, err := conn.Exec(ctx, mappingKeySQL); err != nil {
		return 0, common.DBError("index node id mapping", err)
	}
	return tag.RowsAffected(), nil
}

// ShiftCorpus returns the final id, pre and post of a staged corpus row.
// These are the values the insert statements compute in SQL.
func ShiftCorpus(off common.Offsets, id, pre, post int64) (int64, int64, int64) {
	return id + off.CorpusIDBase, pre + off.CorpusPostBase, post + off.CorpusPostBase
}

// ShiftNode returns the final id of a staged node.
func ShiftNode(off common.Offsets, id int64) int64 {
	return id + off.NodeIDBase
}
