// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"errors"
	"strconv"
)

// Small key-value table for service state: the ingester cursor and the
// per-user graph rebuild stamps live here.

func (r *Repository) GetMeta(key string) (string, error) {
	var value string
	err := r.DB.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *Repository) SetMeta(key, value string) error {
	return retryBusy(func() error {
		_, err := r.DB.Exec(
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}

// Cursor returns the persisted firehose cursor (microseconds) for the
// given service, or 0 when none is stored yet.
func (r *Repository) Cursor(service string) (int64, error) {
	v, err := r.GetMeta("cursor_" + service)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *Repository) SetCursor(service string, timeUs int64) error {
	return r.SetMeta("cursor_"+service, strconv.FormatInt(timeUs, 10))
}
