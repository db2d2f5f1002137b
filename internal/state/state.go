// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state provides session state persistence.
package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no item is stored.
var ErrNotFound = errors.New("not found")

// DB is a persistent session state store. Items are keyed by the project
// document path and an item name.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema.
const Schema = `
create table if not exists session(
	project TEXT NOT NULL,
	item    TEXT NOT NULL,
	value   BLOB NOT NULL,
	PRIMARY KEY(project, item)
);
`

const (
	upsert = `
insert into session values(?, ?, ?)
  on conflict do update set value=?;
`

	get = `
select value from session where project is ? and item is ?;
`

	getAll = `
select item, value from session where project is ?;
`

	delet = `
delete from session where project is ? and item is ?;
`

	drop = `
delete from session where project is ?;
`
)

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "state"))}, nil
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// Set sets the project's named item to the provided value.
func (db *DB) Set(project, item string, val []byte) error {
	ctx := context.Background()
	key := dbKey{project, item}
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.Any("key", key), slog.Any("val", val))
	db.mu.Lock()
	err := db.set(db.store, project, item, val)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.Any("key", key), slog.Any("error", err))
	}
	return err
}

func (*DB) set(db querier, project, item string, val []byte) error {
	_, err := db.Exec(upsert, project, item, val, val)
	return err
}

// Get returns the project's named item. Get returns ErrNotFound if no
// item is found.
func (db *DB) Get(project, item string) (val []byte, err error) {
	ctx := context.Background()
	key := dbKey{project, item}
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.Any("key", key))
	db.mu.Lock()
	val, err = db.get(db.store, project, item)
	db.mu.Unlock()
	if err != nil && err != ErrNotFound {
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.Any("key", key), slog.Any("error", err))
	}
	return val, err
}

func (*DB) get(db querier, project, item string) ([]byte, error) {
	rows, err := db.Query(get, project, item)
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, ErrNotFound
	}
	var val []byte
	err = rows.Scan(&val)
	if err != nil {
		return nil, err
	}
	if rows.Next() {
		return val, errors.New("unexpected item")
	}
	rows.Close()
	return val, rows.Err()
}

// GetAll returns all the project's items.
func (db *DB) GetAll(project string) (vals map[string][]byte, err error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "get all", slog.String("key", project))
	db.mu.Lock()
	vals, err = db.getAll(db.store, project)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "get all", slog.String("key", project), slog.Any("error", err))
	}
	return vals, err
}

func (*DB) getAll(db querier, project string) (map[string][]byte, error) {
	rows, err := db.Query(getAll, project)
	if err != nil {
		return nil, err
	}
	var (
		item string
		val  []byte
	)
	vals := make(map[string][]byte)
	for rows.Next() {
		err = rows.Scan(&item, &val)
		if err != nil {
			return nil, err
		}
		vals[item] = val
	}
	rows.Close()
	return vals, rows.Err()
}

// Put returns the project's named item and sets it to the new provided
// value if the values differ. It returns whether a write was performed.
func (db *DB) Put(project, item string, new []byte) (old []byte, written bool, err error) {
	ctx := context.Background()
	key := dbKey{project, item}
	db.log.LogAttrs(ctx, slog.LevelDebug, "put", slog.Any("key", key), slog.Any("val", new))
	db.mu.Lock()
	defer func() {
		db.mu.Unlock()
		if err != nil {
			db.log.LogAttrs(ctx, slog.LevelError, "put", slog.Any("key", key), slog.Any("error", err))
		}
	}()
	tx, err := db.store.Begin()
	if err != nil {
		return old, written, err
	}
	old, err = db.get(tx, project, item)
	if err != nil && err != ErrNotFound {
		return old, written, tx.Rollback()
	}
	err = db.set(tx, project, item, new)
	if err != nil {
		return old, written, tx.Rollback()
	}
	return old, !bytes.Equal(old, new), tx.Commit()
}

// Delete removes the project's named item.
func (db *DB) Delete(project, item string) error {
	ctx := context.Background()
	key := dbKey{project, item}
	db.log.LogAttrs(ctx, slog.LevelDebug, "delete", slog.Any("key", key))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(delet, project, item)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "delete", slog.Any("key", key), slog.Any("error", err))
	}
	return err
}

// Drop deletes all entries for the project.
func (db *DB) Drop(project string) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "drop", slog.String("key", project))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(drop, project)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "drop", slog.String("key", project), slog.Any("error", err))
	}
	return err
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}

type dbKey struct {
	Project string `json:"project"`
	Item    string `json:"item"`
}

func (k dbKey) LogValue() slog.Value {
	b, err := json.Marshal(k)
	if err != nil {
		return slog.AnyValue(err)
	}
	return slog.StringValue(string(b))
}
