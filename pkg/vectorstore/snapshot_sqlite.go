// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	_ "modernc.org/sqlite"
)

type sqliteCodec struct{}

func (sqliteCodec) write(ctx context.Context, path string, dim int, vectors []float32, metadata []Metadata) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ensureSnapshotSchema(ctx, db); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_meta (key, value) VALUES ('dim', ?)`, strconv.Itoa(dim)); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_entries (idx, vector, metadata) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range metadata {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, i, encodeVector(vectors[i*dim:(i+1)*dim]), string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (sqliteCodec) read(ctx context.Context, path string) (int, []float32, []Metadata, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, nil, nil, err
	}
	defer db.Close()

	var rawDim string
	if err := db.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = 'dim'`).Scan(&rawDim); err != nil {
		return 0, nil, nil, err
	}
	dim, err := strconv.Atoi(rawDim)
	if err != nil {
		return 0, nil, nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT vector, metadata FROM snapshot_entries ORDER BY idx ASC`)
	if err != nil {
		return 0, nil, nil, err
	}
	defer rows.Close()

	var (
		vectors  []float32
		metadata []Metadata
	)
	for rows.Next() {
		var (
			blob    []byte
			payload string
		)
		if err := rows.Scan(&blob, &payload); err != nil {
			return 0, nil, nil, err
		}
		vectors, err = decodeVector(vectors, blob, dim)
		if err != nil {
			return 0, nil, nil, err
		}
		var m Metadata
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return 0, nil, nil, err
		}
		metadata = append(metadata, m.withDefaults())
	}
	if err := rows.Err(); err != nil {
		return 0, nil, nil, err
	}
	return dim, vectors, metadata, nil
}

func ensureSnapshotSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_entries (
			idx INTEGER PRIMARY KEY,
			vector BLOB NOT NULL,
			metadata TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
