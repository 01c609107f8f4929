// Package staging owns the transaction-scoped mirror tables an import is
// loaded into before anything reaches the target schema.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

const (
	copyOptions  = `WITH DELIMITER E'\t' NULL AS 'NULL'`
	wideningName = "_tmpnode"
)

// Manager creates, loads and drops the staging tables of one import.
type Manager struct {
	conn      store.Conn
	version   format.Version
	tables    []format.Table
	created   []string
	temporary bool
}

// New prepares a manager for the layout of v. Temporary tables vanish with
// the session; otherwise tables are UNLOGGED and kept after the import for
// inspection.
func New(conn store.Conn, v format.Version, temporary bool) *Manager {
	return &Manager{
		conn:      conn,
		version:   v,
		tables:    format.Layout(v),
		temporary: temporary,
	}
}

func (m *Manager) Tables() []format.Table { return m.tables }

func (m *Manager) Temporary() bool { return m.temporary }

// Track registers an auxiliary staging table created by a later step so it
// is dropped together with the rest. Tables tracked before Create are also
// cleared as leftovers of a kept staging area.
func (m *Manager) Track(name string) {
	if !slices.Contains(m.created, name) {
		m.created = append(m.created, name)
	}
}

// CreateSQL renders the statement that creates a staging table.
func (m *Manager) CreateSQL(name string, cols []format.Column) string {
	kind := "UNLOGGED"
	if m.temporary {
		kind = "TEMPORARY"
	}
	return fmt.Sprintf("CREATE %s TABLE %s (%s)", kind, store.Ident(name), columnDefs(cols))
}

// Create creates one staging table per importable table.
func (m *Manager) Create(ctx context.Context, tok statement.Token) error {
	if len(m.tables) == 0 {
		return &common.FormatError{Reason: "no table layout for version " + m.version.String()}
	}
	if !m.temporary {
		// leftovers of a previous kept import
		if err := m.dropAll(ctx); err != nil {
			return err
		}
	}
	for _, t := range m.tables {
		if err := tok.Check("create_staging_area"); err != nil {
			return err
		}
		if _, err := m.conn.Exec(ctx, m.CreateSQL(t.StagingName(), t.Columns)); err != nil {
			return common.DBError("create staging table "+t.StagingName(), err)
		}
	}
	logger.Debug("[Staging] Created staging area", "tables", len(m.tables), "temporary", m.temporary)
	return nil
}

// LoadAll bulk loads every table file of dir, checking for cancellation
// between tables.
func (m *Manager) LoadAll(ctx context.Context, dir string, tok statement.Token) (int64, error) {
	var total int64
	for _, t := range m.tables {
		if err := tok.Check("bulk_load"); err != nil {
			return total, err
		}
		n, err := m.BulkLoad(ctx, t, t.FileName(dir, m.version))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// BulkLoad streams path into the staging copy of t over COPY FROM STDIN.
// The node table is widened through an intermediate table when the file
// carries fewer columns than the staging layout.
func (m *Manager) BulkLoad(ctx context.Context, t format.Table, path string) (int64, error) {
	start := time.Now()

	if t.Name == format.TableNode {
		n, err := format.CountColumns(path)
		if err != nil {
			return 0, &common.FileAccessError{Path: path, Err: err}
		}
		switch {
		case n == 0 || n == len(t.Columns):
		case n == len(t.FileColumns):
			rows, err := m.widen(ctx, t, path)
			if err != nil {
				return 0, err
			}
			logger.Debug("[Staging] Loaded widened node table", "file", path, "columns", n, "rows", rows, "duration", time.Since(start))
			return rows, nil
		default:
			return 0, &common.FormatError{
				Path:   path,
				Reason: fmt.Sprintf("node table has %d columns, expected %d or %d", n, len(t.FileColumns), len(t.Columns)),
			}
		}
		rows, err := m.copyFile(ctx, path, t.StagingName(), t.ColumnNames())
		if err != nil {
			return 0, err
		}
		logger.Debug("[Staging] Loaded table", "table", t.StagingName(), "rows", rows, "duration", time.Since(start))
		return rows, nil
	}

	rows, err := m.copyFile(ctx, path, t.StagingName(), t.FileColumns)
	if err != nil {
		return 0, err
	}
	logger.Debug("[Staging] Loaded table", "table", t.StagingName(), "rows", rows, "duration", time.Since(start))
	return rows, nil
}

func (m *Manager) widen(ctx context.Context, t format.Table, path string) (int64, error) {
	fileCols := make([]format.Column, 0, len(t.FileColumns))
	for _, name := range t.FileColumns {
		c, ok := t.Column(name)
		if !ok {
			return 0, &common.FormatError{Path: path, Reason: "unknown node column " + name}
		}
		fileCols = append(fileCols, c)
	}

	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s) ON COMMIT DROP", store.Ident(wideningName), columnDefs(fileCols))
	if _, err := m.conn.Exec(ctx, create); err != nil {
		return 0, common.DBError("create widening table", err)
	}
	if _, err := m.copyFile(ctx, path, wideningName, t.FileColumns); err != nil {
		return 0, err
	}

	selects := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if slices.Contains(t.FileColumns, c.Name) {
			selects[i] = store.Ident(c.Name)
		} else {
			selects[i] = "NULL::" + c.Type
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		store.Ident(t.StagingName()), store.Idents(t.ColumnNames()), strings.Join(selects, ", "), store.Ident(wideningName))
	tag, err := m.conn.Exec(ctx, insert)
	if err != nil {
		return 0, common.DBError("widen node table", err)
	}
	if _, err := m.conn.Exec(ctx, "DROP TABLE "+store.Ident(wideningName)); err != nil {
		return 0, common.DBError("drop widening table", err)
	}
	return tag.RowsAffected(), nil
}

func (m *Manager) copyFile(ctx context.Context, path, table string, columns []string) (int64, error) {
	copier, ok := m.conn.(store.Copier)
	if !ok {
		return 0, &common.DatabaseAccessError{Op: "bulk load " + table, Err: errors.New("bulk-copy protocol unavailable")}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, &common.FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	src := &trackingReader{r: f}
	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN %s", store.Ident(table), store.Idents(columns), copyOptions)
	tag, err := copier.CopyFromReader(ctx, src, sql)
	if err != nil {
		if src.err != nil {
			return 0, &common.FileAccessError{Path: path, Err: src.err}
		}
		return 0, common.DBError("bulk load "+table, err)
	}
	return tag.RowsAffected(), nil
}

// Drop removes the staging tables in reverse creation order. It does nothing
// when tables are kept.
func (m *Manager) Drop(ctx context.Context) error {
	if !m.temporary {
		logger.Info("[Staging] Keeping staging tables for inspection", "tables", len(m.tables)+len(m.created))
		return nil
	}
	return m.dropAll(ctx)
}

func (m *Manager) dropAll(ctx context.Context) error {
	names := m.DropOrder()
	for _, name := range names {
		if _, err := m.conn.Exec(ctx, "DROP TABLE IF EXISTS "+store.Ident(name)); err != nil {
			return common.DBError("drop staging table "+name, err)
		}
	}
	return nil
}

// DropOrder is the reverse of imported plus auxiliary tables.
func (m *Manager) DropOrder() []string {
	names := make([]string, 0, len(m.tables)+len(m.created))
	for _, t := range m.tables {
		names = append(names, t.StagingName())
	}
	names = append(names, m.created...)
	slices.Reverse(names)
	return names
}

func columnDefs(cols []format.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = store.Ident(c.Name) + " " + c.Type
	}
	return strings.Join(defs, ", ")
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
