package format

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/relannis/pkg/common"
)

// Version is the closed set of relANNIS exchange formats the importer knows.
type Version int

const (
	Unknown Version = iota
	RelANNIS31
	RelANNIS32
	RelANNIS33
)

const (
	// VersionFile is the marker that identifies relANNIS 3.3 and later.
	VersionFile = "annis.version"
	// ExtDataDir holds media files referenced by annotation values.
	ExtDataDir = "ExtData"

	legacyNodeFile = "node.tab"

	columnsV31 = 10
	columnsV32 = 13
)

func (v Version) String() string {
	switch v {
	case RelANNIS31:
		return "3.1"
	case RelANNIS32:
		return "3.2"
	case RelANNIS33:
		return "3.3"
	default:
		return "unknown"
	}
}

// Suffix is the file extension of every table file of this version.
func (v Version) Suffix() string {
	if v == RelANNIS33 {
		return ".annis"
	}
	return ".tab"
}

// Legacy reports whether the version needs the derived-column steps.
func (v Version) Legacy() bool {
	return v == RelANNIS31 || v == RelANNIS32
}

// Detect classifies an import directory. A version marker file always wins;
// only unmarked directories are sniffed by the node table's column count.
// Unrecognized input yields Unknown with a nil error, IO problems yield a
// FileAccessError.
func Detect(dir string) (Version, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Unknown, &common.FileAccessError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return Unknown, nil
	}

	marker := filepath.Join(dir, VersionFile)
	if _, err := os.Stat(marker); err == nil {
		line, err := firstLine(marker)
		if err != nil {
			return Unknown, &common.FileAccessError{Path: marker, Err: err}
		}
		if strings.TrimSpace(line) == "3.3" {
			return RelANNIS33, nil
		}
		return Unknown, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Unknown, &common.FileAccessError{Path: marker, Err: err}
	}

	nodeFile := filepath.Join(dir, legacyNodeFile)
	n, err := CountColumns(nodeFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Unknown, nil
		}
		return Unknown, &common.FileAccessError{Path: nodeFile, Err: err}
	}
	switch n {
	case columnsV32:
		return RelANNIS32, nil
	case columnsV31:
		return RelANNIS31, nil
	default:
		return Unknown, nil
	}
}

// CountColumns returns the number of tab separated fields in the first line
// of path, or 0 for an empty file.
func CountColumns(path string) (int, error) {
	line, err := firstLine(path)
	if err != nil {
		return 0, err
	}
	if line == "" {
		return 0, nil
	}
	return len(strings.Split(line, "\t")), nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
