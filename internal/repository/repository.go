// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"errors"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

var (
	repoOnce     sync.Once
	repoInstance *Repository
)

var ErrNotFound = errors.New("not found")

// Chunk size for bulk inserts. sqlite limits the number of bound
// variables per statement; 500 rows stays well below it for the
// widest table.
const insertChunkSize = 500

// Repository is the single data-access layer for all components.
type Repository struct {
	DB *sqlx.DB

	stmtCache *sq.StmtCache
}

func GetRepository() *Repository {
	repoOnce.Do(func() {
		db := GetConnection()

		repoInstance = &Repository{
			DB:        db.DB,
			stmtCache: sq.NewStmtCache(db.DB),
		}
	})

	return repoInstance
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}

// retryBusy runs fn up to three times, backing off one second between
// attempts when sqlite reports contention. Other errors surface
// immediately.
func retryBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		log.Warnf("database busy, retrying (attempt %d): %v", attempt+1, err)
		time.Sleep(time.Second)
	}
	return err
}

// chunked calls fn over slices of at most insertChunkSize items.
func chunked[T any](items []T, fn func([]T) error) error {
	for start := 0; start < len(items); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
