// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketSnapshotMeta    = []byte("meta")
	bucketSnapshotEntries = []byte("entries")
	keySnapshotDim        = []byte("dim")
)

type boltCodec struct{}

type boltEntry struct {
	Vector   []byte   `json:"v"`
	Metadata Metadata `json:"m"`
}

func (boltCodec) write(ctx context.Context, path string, dim int, vectors []float32, metadata []Metadata) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketSnapshotMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keySnapshotDim, []byte(strconv.Itoa(dim))); err != nil {
			return err
		}
		entries, err := tx.CreateBucketIfNotExists(bucketSnapshotEntries)
		if err != nil {
			return err
		}
		for i, m := range metadata {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			data, err := json.Marshal(boltEntry{
				Vector:   encodeVector(vectors[i*dim : (i+1)*dim]),
				Metadata: m,
			})
			if err != nil {
				return err
			}
			if err := entries.Put(entryKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (boltCodec) read(ctx context.Context, path string) (int, []float32, []Metadata, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return 0, nil, nil, err
	}
	defer db.Close()

	var (
		dim      int
		vectors  []float32
		metadata []Metadata
	)
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketSnapshotMeta)
		if meta == nil {
			return fmt.Errorf("snapshot has no %s bucket", bucketSnapshotMeta)
		}
		var err error
		dim, err = strconv.Atoi(string(meta.Get(keySnapshotDim)))
		if err != nil {
			return fmt.Errorf("snapshot dimension: %w", err)
		}
		entries := tx.Bucket(bucketSnapshotEntries)
		if entries == nil {
			return nil
		}
		// Big-endian keys iterate in insertion order.
		return entries.ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e boltEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			vectors, err = decodeVector(vectors, e.Vector, dim)
			if err != nil {
				return err
			}
			metadata = append(metadata, e.Metadata.withDefaults())
			return nil
		})
	})
	if err != nil {
		return 0, nil, nil, err
	}
	return dim, vectors, metadata, nil
}

func entryKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}
