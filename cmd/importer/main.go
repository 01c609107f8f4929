package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/corpus"
)

// version is set via ldflags during build
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error class to a process exit status.
func exitCode(err error) int {
	if errors.Is(err, corpus.ErrNotFound) {
		return 4
	}
	switch common.Classify(err) {
	case "ok":
		return 0
	case "format":
		return 2
	case "conflict":
		return 3
	case "file_access":
		return 5
	case "database_access":
		return 6
	case "cancelled":
		return 130
	default:
		return 1
	}
}
