package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
)

// Writer writes output rows to NumShards files named
// "<prefix>-SSSSS-of-NNNNN<suffix>" under dir, each starting with the
// header line. It implements pipeline.BatchLoader.
type Writer struct {
	dir    string
	prefix string
	suffix string
	shards int
	logger *slog.Logger
}

// NewWriter creates a sharded file writer. shards below 1 is treated as 1.
func NewWriter(dir, prefix, suffix string, shards int, logger *slog.Logger) *Writer {
	if shards < 1 {
		shards = 1
	}
	return &Writer{dir: dir, prefix: prefix, suffix: suffix, shards: shards, logger: logger}
}

// Name identifies the sink in metrics and logs.
func (w *Writer) Name() string { return "file" }

// ShardPath returns the path of shard i.
func (w *Writer) ShardPath(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%05d-of-%05d%s", w.prefix, i, w.shards, w.suffix))
}

// LoadBatch writes all rows, assigning each to a shard by key hash. Rows keep
// their relative order within a shard. Every shard file is written, even
// when it receives no rows. Files are replaced atomically.
func (w *Writer) LoadBatch(ctx context.Context, rows []domain.OutputRow) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	byShard := make([][]domain.OutputRow, w.shards)
	for _, row := range rows {
		p := shardFor(row.Key(), w.shards)
		byShard[p] = append(byShard[p], row)
	}

	for i, shardRows := range byShard {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := w.ShardPath(i)
		if err := writeShard(path, shardRows); err != nil {
			return err
		}
		w.logger.Debug("output shard written", "path", path, "rows", len(shardRows))
	}
	return nil
}

// shardFor assigns a key to one of n shards by FNV-32a hash.
func shardFor(key domain.AggregateKey, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(n))
}

func writeShard(path string, rows []domain.OutputRow) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if _, err := bw.WriteString(domain.Header + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if _, err := bw.WriteString(domain.FormatRow(row) + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}

	if err := errors.Join(bw.Flush(), tmp.Close()); err != nil {
		return fmt.Errorf("flush shard: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod shard: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename shard: %w", err)
	}
	return nil
}
