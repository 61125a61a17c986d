// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/recall/pkg/errors"
)

func TestSnapshotRoundTrip(t *testing.T) {
	for _, driver := range []SnapshotDriver{SnapshotSQLite, SnapshotBolt} {
		t.Run(string(driver), func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "index."+string(driver))

			src := newFlat(t, 3)
			require.NoError(t, src.Add(ctx,
				[][]float32{{1, 0, 0}, {0, 2, 0}, {0, 0, 3}},
				[]Metadata{
					passage("cats are mammals", "a.txt"),
					passage("stocks rose today", "b.txt"),
					{KeyText: "no source", "page": "7"},
				},
			))
			require.NoError(t, src.SaveSnapshot(ctx, driver, path))

			_, err := os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

			dst := newFlat(t, 3)
			require.NoError(t, dst.LoadSnapshot(ctx, driver, path))
			assert.Equal(t, 3, storeLen(t, dst))

			want, err := src.Search(ctx, []float32{0.2, 1, 0.1}, 3, nil)
			require.NoError(t, err)
			got, err := dst.Search(ctx, []float32{0.2, 1, 0.1}, 3, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, "7", got[len(got)-1].Metadata["page"])
		})
	}
}

func TestSnapshotDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	src := newFlat(t, 2)
	require.NoError(t, src.Add(ctx, [][]float32{{1, 0}}, []Metadata{passage("a", "a")}))
	require.NoError(t, src.SaveSnapshot(ctx, SnapshotSQLite, path))

	dst := newFlat(t, 3)
	err := dst.LoadSnapshot(ctx, SnapshotSQLite, path)
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)
	assert.Equal(t, 0, storeLen(t, dst))
}

func TestSnapshotMissingFile(t *testing.T) {
	s := newFlat(t, 2)
	err := s.LoadSnapshot(context.Background(), SnapshotBolt, filepath.Join(t.TempDir(), "absent.bolt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSnapshotEmptyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.bolt")

	require.NoError(t, newFlat(t, 4).SaveSnapshot(ctx, SnapshotBolt, path))

	dst := newFlat(t, 4)
	require.NoError(t, dst.LoadSnapshot(ctx, SnapshotBolt, path))
	assert.Equal(t, 0, storeLen(t, dst))
}

func TestSnapshotOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	s := newFlat(t, 2)

	require.NoError(t, s.Add(ctx, [][]float32{{1, 0}}, []Metadata{passage("a", "a")}))
	require.NoError(t, s.SaveSnapshot(ctx, SnapshotSQLite, path))
	require.NoError(t, s.Add(ctx, [][]float32{{0, 1}}, []Metadata{passage("b", "b")}))
	require.NoError(t, s.SaveSnapshot(ctx, SnapshotSQLite, path))

	dst := newFlat(t, 2)
	require.NoError(t, dst.LoadSnapshot(ctx, SnapshotSQLite, path))
	assert.Equal(t, 2, storeLen(t, dst))
}

func TestUnknownSnapshotDriver(t *testing.T) {
	err := newFlat(t, 2).SaveSnapshot(context.Background(), "parquet", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
