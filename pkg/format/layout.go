package format

import (
	"path/filepath"
	"slices"
)

// Column is a staging column with its Postgres type.
type Column struct {
	Name string
	Type string
}

// Table describes one importable table: the staging columns and the subset
// present in the source file, in file order.
type Table struct {
	Name        string
	Columns     []Column
	FileColumns []string
	Optional    bool
}

// StagingName is the reserved-prefix name of the table's staging copy.
func (t Table) StagingName() string {
	return StagingPrefix + t.Name
}

// FileName is the source file of the table inside an import directory.
func (t Table) FileName(dir string, v Version) string {
	return filepath.Join(dir, t.Name+v.Suffix())
}

// Column looks up a staging column by name.
func (t Table) Column(name string) (Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return t.Columns[i], true
}

// ColumnNames lists the staging column names.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Derived lists staging columns that are not loaded from the file.
func (t Table) Derived() []Column {
	var out []Column
	for _, c := range t.Columns {
		if !slices.Contains(t.FileColumns, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

const (
	StagingPrefix = "_"

	TableCorpus           = "corpus"
	TableCorpusAnnotation = "corpus_annotation"
	TableText             = "text"
	TableNode             = "node"
	TableNodeAnnotation   = "node_annotation"
	TableComponent        = "component"
	TableRank             = "rank"
	TableEdgeAnnotation   = "edge_annotation"

	// Optional side tables, read by the importer itself.
	TableResolverVisMap = "resolver_vis_map"
	TableExampleQueries = "example_queries"
)

var annotationColumns = []Column{
	{"namespace", "varchar"},
	{"name", "varchar"},
	{"value", "varchar"},
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func table(name string, cols []Column) Table {
	return Table{Name: name, Columns: cols, FileColumns: names(cols)}
}

func withRef(ref string) []Column {
	return append([]Column{{ref, "bigint"}}, annotationColumns...)
}

var (
	corpusV33 = []Column{
		{"id", "bigint"}, {"name", "varchar"}, {"type", "varchar"}, {"version", "varchar"},
		{"pre", "bigint"}, {"post", "bigint"}, {"top_level", "boolean"},
	}
	textV33 = []Column{
		{"corpus_ref", "bigint"}, {"id", "bigint"}, {"name", "varchar"}, {"text", "text"},
	}
	nodeV33 = []Column{
		{"id", "bigint"}, {"text_ref", "bigint"}, {"corpus_ref", "bigint"},
		{"layer", "varchar"}, {"name", "varchar"}, {"left", "integer"}, {"right", "integer"},
		{"token_index", "integer"}, {"left_token", "integer"}, {"right_token", "integer"},
		{"seg_index", "integer"}, {"seg_name", "varchar"}, {"span", "varchar"}, {"root", "boolean"},
	}
	componentColumns = []Column{
		{"id", "bigint"}, {"type", "varchar"}, {"layer", "varchar"}, {"name", "varchar"},
	}
	rankV33 = []Column{
		{"id", "bigint"}, {"pre", "bigint"}, {"post", "bigint"}, {"node_ref", "bigint"},
		{"component_ref", "bigint"}, {"parent", "bigint"}, {"level", "integer"},
	}

	// Legacy staging tables share one layout; derived columns are filled by
	// the legacy transform steps.
	nodeLegacy = []Column{
		{"id", "bigint"}, {"text_ref", "bigint"}, {"corpus_ref", "bigint"},
		{"layer", "varchar"}, {"name", "varchar"}, {"left", "integer"}, {"right", "integer"},
		{"token_index", "integer"}, {"seg_name", "varchar"}, {"seg_left", "integer"},
		{"seg_right", "integer"}, {"continuous", "boolean"}, {"span", "varchar"},
		{"left_token", "integer"}, {"right_token", "integer"}, {"root", "boolean"},
	}
	nodeFileV32 = []string{
		"id", "text_ref", "corpus_ref", "layer", "name", "left", "right", "token_index",
		"seg_name", "seg_left", "seg_right", "continuous", "span",
	}
	nodeFileV31 = []string{
		"id", "text_ref", "corpus_ref", "layer", "name", "left", "right", "token_index",
		"continuous", "span",
	}
)

// Layout returns the importable tables of a version in load order. Parents
// come before children so constraint activation and reverse-order drops work.
func Layout(v Version) []Table {
	switch v {
	case RelANNIS33:
		return []Table{
			table(TableCorpus, corpusV33),
			table(TableCorpusAnnotation, withRef("corpus_ref")),
			table(TableText, textV33),
			table(TableNode, nodeV33),
			table(TableNodeAnnotation, withRef("node_ref")),
			table(TableComponent, componentColumns),
			table(TableRank, rankV33),
			table(TableEdgeAnnotation, withRef("rank_ref")),
		}
	case RelANNIS31, RelANNIS32:
		nodeFile := nodeFileV32
		if v == RelANNIS31 {
			nodeFile = nodeFileV31
		}
		return []Table{
			{
				Name:        TableCorpus,
				Columns:     corpusV33,
				FileColumns: []string{"id", "name", "type", "version", "pre", "post"},
			},
			table(TableCorpusAnnotation, withRef("corpus_ref")),
			{
				Name:        TableText,
				Columns:     []Column{{"id", "bigint"}, {"name", "varchar"}, {"text", "text"}, {"corpus_ref", "bigint"}},
				FileColumns: []string{"id", "name", "text"},
			},
			{Name: TableNode, Columns: nodeLegacy, FileColumns: nodeFile},
			table(TableNodeAnnotation, withRef("node_ref")),
			table(TableComponent, componentColumns),
			{
				Name: TableRank,
				Columns: []Column{
					{"pre", "bigint"}, {"post", "bigint"}, {"node_ref", "bigint"},
					{"component_ref", "bigint"}, {"parent", "bigint"}, {"id", "bigint"}, {"level", "integer"},
				},
				FileColumns: []string{"pre", "post", "node_ref", "component_ref", "parent"},
			},
			table(TableEdgeAnnotation, withRef("rank_ref")),
		}
	default:
		return nil
	}
}

// Lookup finds a table of a version's layout by name.
func Lookup(v Version, name string) (Table, bool) {
	for _, t := range Layout(v) {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
