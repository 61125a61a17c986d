// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/jllopis/recall/pkg/errors"
)

// SnapshotDriver selects the on-disk format used to persist a FlatStore.
type SnapshotDriver string

const (
	// SnapshotSQLite stores entries in a SQLite database file.
	SnapshotSQLite SnapshotDriver = "sqlite"
	// SnapshotBolt stores entries in a bbolt key/value file.
	SnapshotBolt SnapshotDriver = "bolt"
)

// snapshotCodec reads and writes a complete store image. Vectors are already
// normalized; metadata carries the required keys.
type snapshotCodec interface {
	write(ctx context.Context, path string, dim int, vectors []float32, metadata []Metadata) error
	read(ctx context.Context, path string) (dim int, vectors []float32, metadata []Metadata, err error)
}

func codecFor(driver SnapshotDriver) (snapshotCodec, error) {
	switch driver {
	case SnapshotSQLite, "":
		return sqliteCodec{}, nil
	case SnapshotBolt:
		return boltCodec{}, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown snapshot driver %q", driver)
	}
}

// SaveSnapshot writes every entry present at call time to path. The file is
// written beside path and renamed into place, so readers never observe a
// partial snapshot. Concurrent Adds are not blocked while writing.
func (s *FlatStore) SaveSnapshot(ctx context.Context, driver SnapshotDriver, path string) error {
	codec, err := codecFor(driver)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	vectors, metadata := s.view()
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := codec.write(ctx, tmp, s.dim, vectors, metadata); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s snapshot: %w", driver, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot saved", "path", path, "driver", string(driver), "entries", len(metadata))
	return nil
}

// LoadSnapshot appends the entries stored at path. The snapshot must have
// been taken from a store of the same dimension. A missing file yields an
// error matching os.ErrNotExist.
func (s *FlatStore) LoadSnapshot(ctx context.Context, driver SnapshotDriver, path string) error {
	codec, err := codecFor(driver)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}

	dim, vectors, metadata, err := codec.read(ctx, path)
	if err != nil {
		return fmt.Errorf("read %s snapshot: %w", driver, err)
	}
	if dim != s.dim {
		return errors.Newf(errors.CodeDimensionMismatch, "snapshot dimension %d, store dimension %d", dim, s.dim).
			WithContext("path", path)
	}
	if len(vectors) != len(metadata)*dim {
		return errors.Newf(errors.CodeBatchLengthMismatch, "snapshot holds %d components for %d entries", len(vectors), len(metadata))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, vectors...)
	s.metadata = append(s.metadata, metadata...)

	s.logger.InfoContext(ctx, "snapshot loaded", "path", path, "driver", string(driver), "entries", len(metadata))
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(dst []float32, buf []byte, dim int) ([]float32, error) {
	if len(buf) != 4*dim {
		return nil, errors.Newf(errors.CodeDimensionMismatch, "stored vector has %d bytes, want %d", len(buf), 4*dim)
	}
	for i := 0; i < dim; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return dst, nil
}
