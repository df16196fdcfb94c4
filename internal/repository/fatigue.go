// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"errors"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func (r *Repository) GetAuthorFatigue(userDid, authorDid string) (*schema.AuthorFatigue, error) {
	var row schema.AuthorFatigue
	err := r.DB.Get(&row,
		`SELECT * FROM user_author_fatigue WHERE user_did = ? AND author_did = ?`,
		userDid, authorDid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PutAuthorFatigue writes the full recomputed row.
func (r *Repository) PutAuthorFatigue(row *schema.AuthorFatigue) error {
	return retryBusy(func() error {
		_, err := r.DB.NamedExec(
			`INSERT INTO user_author_fatigue
			   (user_did, author_did, serve_count, last_served_at, fatigue_score, affinity_score,
			    interaction_weight, last_interaction_at, interaction_count, updated_at)
			 VALUES (:user_did, :author_did, :serve_count, :last_served_at, :fatigue_score, :affinity_score,
			         :interaction_weight, :last_interaction_at, :interaction_count, :updated_at)
			 ON CONFLICT (user_did, author_did) DO UPDATE SET
			   serve_count = excluded.serve_count,
			   last_served_at = excluded.last_served_at,
			   fatigue_score = excluded.fatigue_score,
			   affinity_score = excluded.affinity_score,
			   interaction_weight = excluded.interaction_weight,
			   last_interaction_at = excluded.last_interaction_at,
			   interaction_count = excluded.interaction_count,
			   updated_at = excluded.updated_at`, row)
		return err
	})
}

// AuthorFatigueFor loads every fatigue row the user holds, keyed by
// author.
func (r *Repository) AuthorFatigueFor(userDid string) (map[string]*schema.AuthorFatigue, error) {
	var rows []schema.AuthorFatigue
	if err := r.DB.Select(&rows,
		`SELECT * FROM user_author_fatigue WHERE user_did = ?`, userDid); err != nil {
		return nil, err
	}

	out := make(map[string]*schema.AuthorFatigue, len(rows))
	for i := range rows {
		out[rows[i].AuthorDid] = &rows[i]
	}
	return out, nil
}
