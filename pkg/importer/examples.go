package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/relannis/pkg/format"
)

// ExampleQueries selects when example queries are generated for a new
// corpus.
type ExampleQueries int

const (
	// ExampleQueriesIfMissing generates only when the import directory ships
	// no example query file.
	ExampleQueriesIfMissing ExampleQueries = iota
	ExampleQueriesTrue
	ExampleQueriesFalse
)

func (e ExampleQueries) String() string {
	switch e {
	case ExampleQueriesTrue:
		return "TRUE"
	case ExampleQueriesFalse:
		return "FALSE"
	default:
		return "IF_MISSING"
	}
}

// ParseExampleQueries reads IF_MISSING, TRUE or FALSE, case-insensitively.
func ParseExampleQueries(s string) (ExampleQueries, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "IF_MISSING":
		return ExampleQueriesIfMissing, nil
	case "TRUE":
		return ExampleQueriesTrue, nil
	case "FALSE":
		return ExampleQueriesFalse, nil
	default:
		return ExampleQueriesIfMissing, fmt.Errorf("invalid example queries setting %q", s)
	}
}

// Resolve decides once, before the import starts, whether queries are
// generated for the corpus in dir.
func (e ExampleQueries) Resolve(dir string, v format.Version) bool {
	switch e {
	case ExampleQueriesTrue:
		return true
	case ExampleQueriesFalse:
		return false
	default:
		info, err := os.Stat(filepath.Join(dir, format.TableExampleQueries+v.Suffix()))
		return err != nil || !info.Mode().IsRegular()
	}
}

// ExampleQueryGenerator derives example queries from an imported corpus. It
// runs after the import committed.
type ExampleQueryGenerator interface {
	Generate(ctx context.Context, corpusID int64, corpus string) error
}
