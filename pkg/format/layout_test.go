package format

import (
	"slices"
	"testing"
)

func TestLayoutOrder(t *testing.T) {
	want := []string{
		TableCorpus, TableCorpusAnnotation, TableText, TableNode,
		TableNodeAnnotation, TableComponent, TableRank, TableEdgeAnnotation,
	}
	for _, v := range []Version{RelANNIS31, RelANNIS32, RelANNIS33} {
		var got []string
		for _, tbl := range Layout(v) {
			got = append(got, tbl.Name)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("%s: expected %v, got %v", v, want, got)
		}
	}
	if Layout(Unknown) != nil {
		t.Fatalf("expected no layout for unknown version")
	}
}

func TestNodeLayouts(t *testing.T) {
	tests := []struct {
		name        string
		version     Version
		fileColumns int
		columns     int
	}{
		{name: "3.3 loads directly", version: RelANNIS33, fileColumns: 14, columns: 14},
		{name: "3.2 is widened", version: RelANNIS32, fileColumns: 13, columns: 16},
		{name: "3.1 is widened", version: RelANNIS31, fileColumns: 10, columns: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, ok := Lookup(tt.version, TableNode)
			if !ok {
				t.Fatalf("expected node table")
			}
			if len(node.FileColumns) != tt.fileColumns {
				t.Fatalf("expected %d file columns, got %d", tt.fileColumns, len(node.FileColumns))
			}
			if len(node.Columns) != tt.columns {
				t.Fatalf("expected %d staging columns, got %d", tt.columns, len(node.Columns))
			}
			for _, c := range node.FileColumns {
				if _, ok := node.Column(c); !ok {
					t.Fatalf("file column %s missing from staging layout", c)
				}
			}
		})
	}
}

func TestDerivedColumns(t *testing.T) {
	rank, _ := Lookup(RelANNIS32, TableRank)
	var got []string
	for _, c := range rank.Derived() {
		got = append(got, c.Name)
	}
	if !slices.Equal(got, []string{"id", "level"}) {
		t.Fatalf("expected derived id and level, got %v", got)
	}
	if rank.StagingName() != "_rank" {
		t.Fatalf("expected _rank, got %s", rank.StagingName())
	}
}
