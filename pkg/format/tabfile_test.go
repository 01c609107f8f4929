package format

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Field
	}{
		{name: "plain", line: "a\tb", want: []Field{{Value: "a"}, {Value: "b"}}},
		{name: "null token", line: "a\tNULL", want: []Field{{Value: "a"}, {Null: true}}},
		{name: "escapes", line: `x\ty\\z` + "\t" + `1\n2`, want: []Field{{Value: "x\ty\\z"}, {Value: "1\n2"}}},
		{name: "crlf", line: "a\tb\r\n", want: []Field{{Value: "a"}, {Value: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitLine(tt.line)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d fields, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("field %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestReadTabFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example_queries.annis")
	if err := os.WriteFile(path, []byte("tok\tall tokens\n\ncat=\"S\"\tNULL\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var lines []int
	err := ReadTabFile(path, func(line int, fields []Field) error {
		lines = append(lines, line)
		if len(fields) != 2 {
			t.Fatalf("expected 2 fields on line %d, got %d", line, len(fields))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[0] != 1 || lines[1] != 3 {
		t.Fatalf("expected lines [1 3], got %v", lines)
	}

	err = ReadTabFile(filepath.Join(dir, "missing.annis"), func(int, []Field) error { return nil })
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
