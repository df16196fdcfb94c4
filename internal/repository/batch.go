// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func (r *Repository) InsertCandidateBatch(rows []*schema.CandidateBatchRow) error {
	return retryBusy(func() error {
		return chunked(rows, func(chunk []*schema.CandidateBatchRow) error {
			_, err := r.DB.NamedExec(
				`INSERT INTO user_candidate_batch
				   (user_did, uri, semantic_score, pipeline_score, centroid_id, batch_id, generated_at)
				 VALUES (:user_did, :uri, :semantic_score, :pipeline_score, :centroid_id, :batch_id, :generated_at)`,
				chunk)
			return err
		})
	})
}

// CandidateBatch loads the user's batch rows generated after the TTL
// cutoff, newest first.
func (r *Repository) CandidateBatch(userDid string, sinceMs int64) ([]*schema.CandidateBatchRow, error) {
	var rows []schema.CandidateBatchRow
	err := r.DB.Select(&rows,
		`SELECT * FROM user_candidate_batch
		 WHERE user_did = ? AND generated_at >= ?
		 ORDER BY generated_at DESC, semantic_score DESC`, userDid, sinceMs)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.CandidateBatchRow, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (r *Repository) GCCandidateBatches(olderThanMs int64) (int64, error) {
	var removed int64
	err := retryBusy(func() error {
		res, err := r.DB.Exec("DELETE FROM user_candidate_batch WHERE generated_at < ?", olderThanMs)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}
