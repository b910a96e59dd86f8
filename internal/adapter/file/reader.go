// Package file reads raw dataset lines from text files and writes output rows
// to sharded delimited files.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
)

// maxLineSize bounds a single input line.
const maxLineSize = 1 << 20

// Reader reads one dataset file. It implements pipeline.LineSource.
type Reader struct {
	path       string
	skipHeader int
}

// NewReader creates a Reader that skips the first skipHeader lines of path.
func NewReader(path string, skipHeader int) *Reader {
	return &Reader{path: path, skipHeader: skipHeader}
}

// Path returns the file the reader reads from.
func (r *Reader) Path() string {
	return r.path
}

// ReadLines returns every non-blank line after the header. Line numbers are
// 1-based and count the skipped header lines.
func (r *Reader) ReadLines(ctx context.Context) ([]domain.RawLine, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []domain.RawLine
	n := 0
	for scanner.Scan() {
		n++
		if n <= r.skipHeader {
			continue
		}
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, domain.RawLine{Source: r.path, Number: n, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	return lines, nil
}
