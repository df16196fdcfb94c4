// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func (r *Repository) KeywordsFor(userDid string) ([]*schema.UserKeyword, error) {
	var rows []schema.UserKeyword
	if err := r.DB.Select(&rows,
		`SELECT * FROM user_keyword WHERE user_did = ?`, userDid); err != nil {
		return nil, err
	}

	out := make([]*schema.UserKeyword, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (r *Repository) UpsertKeywords(rows []*schema.UserKeyword) error {
	return retryBusy(func() error {
		return chunked(rows, func(chunk []*schema.UserKeyword) error {
			_, err := r.DB.NamedExec(
				`INSERT INTO user_keyword (user_did, keyword, score, updated_at)
				 VALUES (:user_did, :keyword, :score, :updated_at)
				 ON CONFLICT (user_did, keyword) DO UPDATE SET
				   score = excluded.score,
				   updated_at = excluded.updated_at`, chunk)
			return err
		})
	})
}

// PruneKeywords drops entries whose absolute score fell below the
// threshold.
func (r *Repository) PruneKeywords(userDid string, threshold float64) error {
	return retryBusy(func() error {
		_, err := r.DB.Exec(
			`DELETE FROM user_keyword WHERE user_did = ? AND ABS(score) < ?`,
			userDid, threshold)
		return err
	})
}

// LikedPostTexts returns texts of posts the user recently liked, for
// the keyword corpus.
func (r *Repository) LikedPostTexts(userDid string, sinceMs int64, limit int) ([]string, error) {
	var texts []string
	err := r.DB.Select(&texts,
		`SELECT p.text
		 FROM graph_interaction gi
		 JOIN post p ON p.uri = gi.target
		 WHERE gi.actor = ? AND gi.type = 'like' AND gi.indexed_at >= ? AND p.text != ''
		 ORDER BY gi.indexed_at DESC LIMIT ?`,
		userDid, sinceMs, limit)
	return texts, err
}
