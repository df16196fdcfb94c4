// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// BumpTasteSimilarity upserts the co-like counters for (user, similar).
func (r *Repository) BumpTasteSimilarity(userDid, similarDid string, nowMs int64) error {
	return retryBusy(func() error {
		_, err := r.DB.Exec(
			`INSERT INTO taste_similarity
			   (user_did, similar_user_did, agreement_count, total_co_liked_posts, last_agreement_at, updated_at)
			 VALUES (?, ?, 1, 1, ?, ?)
			 ON CONFLICT (user_did, similar_user_did) DO UPDATE SET
			   agreement_count = agreement_count + 1,
			   total_co_liked_posts = total_co_liked_posts + 1,
			   last_agreement_at = excluded.last_agreement_at,
			   updated_at = excluded.updated_at`,
			userDid, similarDid, nowMs, nowMs)
		return err
	})
}

func (r *Repository) GetTasteReputation(userDid, similarDid string) (*schema.TasteReputation, error) {
	var row schema.TasteReputation
	err := r.DB.Get(&row,
		`SELECT * FROM taste_reputation WHERE user_did = ? AND similar_user_did = ?`,
		userDid, similarDid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PutTasteReputation writes the full recomputed row. Callers serialize
// per (user, similar) pair, so a plain upsert is safe.
func (r *Repository) PutTasteReputation(row *schema.TasteReputation) error {
	return retryBusy(func() error {
		_, err := r.DB.NamedExec(
			`INSERT INTO taste_reputation
			   (user_did, similar_user_did, reputation_score, agreement_history, last_seen_at, decay_rate, updated_at)
			 VALUES (:user_did, :similar_user_did, :reputation_score, :agreement_history, :last_seen_at, :decay_rate, :updated_at)
			 ON CONFLICT (user_did, similar_user_did) DO UPDATE SET
			   reputation_score = excluded.reputation_score,
			   agreement_history = excluded.agreement_history,
			   last_seen_at = excluded.last_seen_at,
			   decay_rate = excluded.decay_rate,
			   updated_at = excluded.updated_at`, row)
		return err
	})
}

// TasteTwins returns the user's similar users with reputation at or
// above minRep, strongest first.
func (r *Repository) TasteTwins(userDid string, minRep float64, limit int) (map[string]float64, error) {
	rows, err := r.DB.Query(
		`SELECT similar_user_did, reputation_score FROM taste_reputation
		 WHERE user_did = ? AND reputation_score >= ?
		 ORDER BY reputation_score DESC LIMIT ?`, userDid, minRep, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var did string
		var rep float64
		if err := rows.Scan(&did, &rep); err != nil {
			return nil, err
		}
		out[did] = rep
	}
	return out, rows.Err()
}

// ReputationsFor returns every reputation row the user holds, keyed by
// the similar user.
func (r *Repository) ReputationsFor(userDid string) (map[string]float64, error) {
	rows, err := r.DB.Query(
		`SELECT similar_user_did, reputation_score FROM taste_reputation WHERE user_did = ?`,
		userDid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var did string
		var rep float64
		if err := rows.Scan(&did, &rep); err != nil {
			return nil, err
		}
		out[did] = rep
	}
	return out, rows.Err()
}

// HighReputationTwins returns, across all given users, the twins whose
// reputation crossed the tracked-interaction threshold.
func (r *Repository) HighReputationTwins(userDids []string, minRep float64) ([]string, error) {
	if len(userDids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT DISTINCT similar_user_did FROM taste_reputation
		 WHERE user_did IN (?) AND reputation_score >= ?`, userDids, minRep)
	if err != nil {
		return nil, err
	}
	var dids []string
	err = r.DB.Select(&dids, query, args...)
	return dids, err
}
