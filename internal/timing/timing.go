// Package timing records how long corpus imports take and predicts the
// duration of the next one from recent throughput.
package timing

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// window is the number of recent imports a prediction averages over.
const window = 20

type Sample struct {
	Corpus   string
	Nodes    int64
	Bytes    int64
	Duration time.Duration
}

const addImportTimeSQL = `
INSERT INTO import_timing ("corpus", "nodes", "bytes", "duration_ms")
VALUES ($1, $2, $3, $4)`

const predictImportTimeSQL = `
SELECT COALESCE(SUM("duration_ms")::float8 / NULLIF(SUM("bytes"), 0), 0)
FROM (
	SELECT "duration_ms", "bytes" FROM import_timing
	ORDER BY "created_at" DESC
	LIMIT $1
) recent`

func AddImportTime(ctx context.Context, conn store.Conn, s Sample) error {
	_, err := conn.Exec(ctx, addImportTimeSQL, s.Corpus, s.Nodes, s.Bytes, s.Duration.Milliseconds())
	return err
}

// PredictImportTime returns zero when no history exists yet.
func PredictImportTime(ctx context.Context, conn store.Conn, bytes int64) (time.Duration, error) {
	var msPerByte float64
	if err := conn.QueryRow(ctx, predictImportTimeSQL, window).Scan(&msPerByte); err != nil {
		return 0, err
	}
	return time.Duration(msPerByte * float64(bytes) * float64(time.Millisecond)), nil
}

// DirSize sums the sizes of all regular files below dir.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
