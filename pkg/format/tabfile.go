package format

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/OFFIS-RIT/relannis/pkg/common"
)

// NullToken marks a NULL field in tab-delimited files.
const NullToken = "NULL"

// Field is one value of a tab-delimited line.
type Field struct {
	Value string
	Null  bool
}

// Any returns the value for a database parameter, nil for NULL.
func (f Field) Any() any {
	if f.Null {
		return nil
	}
	return f.Value
}

var unescaper = strings.NewReplacer(`\\`, `\`, `\t`, "\t", `\n`, "\n", `\r`, "\r")

// SplitLine splits a line into fields, decoding the NULL token and the
// backslash escapes of the COPY text format.
func SplitLine(line string) []Field {
	raw := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	fields := make([]Field, len(raw))
	for i, r := range raw {
		if r == NullToken {
			fields[i] = Field{Null: true}
			continue
		}
		fields[i] = Field{Value: unescaper.Replace(r)}
	}
	return fields
}

// ReadTabFile calls fn for every non-empty line of path with its 1-based
// line number. A missing file is reported through os.ErrNotExist so optional
// tables can be skipped.
func ReadTabFile(path string, fn func(line int, fields []Field) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return &common.FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(n, SplitLine(line)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return &common.FileAccessError{Path: path, Err: err}
	}
	return nil
}
