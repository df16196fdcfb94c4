// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func (r *Repository) InsertServed(userDid string, uris []string, nowMs int64) error {
	rows := make([]*schema.ServedPost, len(uris))
	for i, uri := range uris {
		rows[i] = &schema.ServedPost{UserDid: userDid, URI: uri, ServedAt: nowMs}
	}

	return retryBusy(func() error {
		return chunked(rows, func(chunk []*schema.ServedPost) error {
			_, err := r.DB.NamedExec(
				`INSERT INTO user_served_post (user_did, uri, served_at)
				 VALUES (:user_did, :uri, :served_at)`, chunk)
			return err
		})
	})
}

func (r *Repository) InsertSeen(userDid, uri string, nowMs int64) error {
	return retryBusy(func() error {
		_, err := r.DB.Exec(
			`INSERT INTO user_seen_post (user_did, uri, seen_at) VALUES (?, ?, ?)`,
			userDid, uri, nowMs)
		return err
	})
}

// SeenCounts returns, per URI, how often the user saw it since the
// cutoff. Drives the multiplicative seen fatigue.
func (r *Repository) SeenCounts(userDid string, sinceMs int64) (map[string]int64, error) {
	rows, err := r.DB.Query(
		`SELECT uri, COUNT(*) FROM user_seen_post
		 WHERE user_did = ? AND seen_at >= ? GROUP BY uri`, userDid, sinceMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var uri string
		var n int64
		if err := rows.Scan(&uri, &n); err != nil {
			return nil, err
		}
		out[uri] = n
	}
	return out, rows.Err()
}

func (r *Repository) GCServed(olderThanMs int64) (int64, error) {
	var removed int64
	err := retryBusy(func() error {
		res, err := r.DB.Exec("DELETE FROM user_served_post WHERE served_at < ?", olderThanMs)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

func (r *Repository) GCSeen(olderThanMs int64) (int64, error) {
	var removed int64
	err := retryBusy(func() error {
		res, err := r.DB.Exec("DELETE FROM user_seen_post WHERE seen_at < ?", olderThanMs)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}
