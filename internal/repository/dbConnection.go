// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the sqlite database in WAL mode and runs pending
// migrations. The ingester and the server may share one process; a
// busy timeout keeps short write bursts from surfacing as errors.
func Connect(db string) {
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", db)
		dbHandle, err := sqlx.Open("sqlite3WithHooks", dsn)
		if err != nil {
			log.Fatalf("sqlx.Open() error: %v", err)
		}

		// sqlite does not multithread. Having more than one connection open
		// would just mean waiting for locks.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		if err := MigrateDB(dbHandle.DB); err != nil {
			log.Fatalf("database migration failed: %v", err)
		}
	})
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatalf("database connection not initialized")
	}

	return dbConnInstance
}
