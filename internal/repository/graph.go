// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func (r *Repository) InsertFollows(edges []*schema.FollowEdge) error {
	return retryBusy(func() error {
		return chunked(edges, func(chunk []*schema.FollowEdge) error {
			_, err := r.DB.NamedExec(
				`INSERT INTO graph_follow (follower, followee, indexed_at)
				 VALUES (:follower, :followee, :indexed_at)
				 ON CONFLICT (follower, followee) DO NOTHING`, chunk)
			return err
		})
	})
}

// L1Follows returns the accounts the user directly follows.
func (r *Repository) L1Follows(userDid string) ([]string, error) {
	var dids []string
	err := r.DB.Select(&dids,
		"SELECT followee FROM graph_follow WHERE follower = ?", userDid)
	return dids, err
}

// L2Follows returns accounts followed by the user's L1, excluding L1
// and the user.
func (r *Repository) L2Follows(userDid string) ([]string, error) {
	var dids []string
	err := r.DB.Select(&dids,
		`SELECT DISTINCT g2.followee
		 FROM graph_follow g1
		 JOIN graph_follow g2 ON g2.follower = g1.followee
		 WHERE g1.follower = ?
		   AND g2.followee != ?
		   AND g2.followee NOT IN (SELECT followee FROM graph_follow WHERE follower = ?)`,
		userDid, userDid, userDid)
	return dids, err
}

// Mutuals returns L1 accounts that follow the user back.
func (r *Repository) Mutuals(userDid string) ([]string, error) {
	var dids []string
	err := r.DB.Select(&dids,
		`SELECT g1.followee
		 FROM graph_follow g1
		 JOIN graph_follow g2 ON g2.follower = g1.followee AND g2.followee = g1.follower
		 WHERE g1.follower = ?`, userDid)
	return dids, err
}

// L2FollowCounts counts, per followee, how many of the given L1
// accounts follow it. Feeds the influence score.
func (r *Repository) L2FollowCounts(l1 []string) (map[string]int64, error) {
	out := make(map[string]int64)
	if len(l1) == 0 {
		return out, nil
	}

	err := chunked(l1, func(chunk []string) error {
		query, args, err := sqlx.In(
			`SELECT followee, COUNT(*) AS n FROM graph_follow
			 WHERE follower IN (?) GROUP BY followee`, chunk)
		if err != nil {
			return err
		}
		rows, err := r.DB.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var did string
			var n int64
			if err := rows.Scan(&did, &n); err != nil {
				return err
			}
			out[did] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InteractedAuthors returns authors whose posts the user recently
// liked, reposted or replied to.
func (r *Repository) InteractedAuthors(userDid string, sinceMs int64) ([]string, error) {
	var dids []string
	err := r.DB.Select(&dids,
		`SELECT DISTINCT p.author
		 FROM graph_interaction gi
		 JOIN post p ON p.uri = gi.target
		 WHERE gi.actor = ? AND gi.indexed_at >= ? AND p.author != ?`,
		userDid, sinceMs, userDid)
	return dids, err
}

func (r *Repository) InsertInteraction(e *schema.InteractionEdge) error {
	return retryBusy(func() error {
		_, err := r.DB.NamedExec(
			`INSERT INTO graph_interaction (actor, target, type, weight, indexed_at, interaction_uri)
			 VALUES (:actor, :target, :type, :weight, :indexed_at, :interaction_uri)
			 ON CONFLICT (actor, target, type) DO NOTHING`, e)
		return err
	})
}

// InteractionsByActor returns the actor's interaction edges, newest
// first, optionally since a cutoff.
func (r *Repository) InteractionsByActor(actor string, sinceMs int64) ([]*schema.InteractionEdge, error) {
	var edges []schema.InteractionEdge
	err := r.DB.Select(&edges,
		`SELECT * FROM graph_interaction
		 WHERE actor = ? AND indexed_at >= ?
		 ORDER BY indexed_at DESC`, actor, sinceMs)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.InteractionEdge, len(edges))
	for i := range edges {
		out[i] = &edges[i]
	}
	return out, nil
}

// NetworkInteractions fetches interactions on the candidate URIs by
// the given actor set (L1 plus influential L2). Feeds the
// network-effort signal.
func (r *Repository) NetworkInteractions(uris, actors []string) ([]*schema.InteractionEdge, error) {
	if len(uris) == 0 || len(actors) == 0 {
		return nil, nil
	}

	var out []*schema.InteractionEdge
	err := chunked(uris, func(chunk []string) error {
		query, args, err := sqlx.In(
			`SELECT * FROM graph_interaction
			 WHERE target IN (?) AND actor IN (?)`, chunk, actors)
		if err != nil {
			return err
		}
		var edges []schema.InteractionEdge
		if err := r.DB.Select(&edges, query, args...); err != nil {
			return err
		}
		for i := range edges {
			out = append(out, &edges[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CoLikers returns actors holding a like edge on the target URI,
// excluding the given actor.
func (r *Repository) CoLikers(targetURI, excludeActor string) ([]string, error) {
	var dids []string
	err := r.DB.Select(&dids,
		`SELECT actor FROM graph_interaction
		 WHERE target = ? AND type = 'like' AND actor != ?`,
		targetURI, excludeActor)
	return dids, err
}

// RecentLikesBy returns the most recent like edges by any of the
// given users (the taste-twin recall source).
func (r *Repository) RecentLikesBy(users []string, sinceMs int64, limit int) ([]*schema.InteractionEdge, error) {
	if len(users) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM graph_interaction
		 WHERE actor IN (?) AND type = 'like' AND indexed_at >= ?
		 ORDER BY indexed_at DESC LIMIT ?`, users, sinceMs, limit)
	if err != nil {
		return nil, err
	}
	var edges []schema.InteractionEdge
	if err := r.DB.Select(&edges, query, args...); err != nil {
		return nil, err
	}
	out := make([]*schema.InteractionEdge, len(edges))
	for i := range edges {
		out[i] = &edges[i]
	}
	return out, nil
}

func (r *Repository) ReplaceInfluentialL2(userDid string, rows []*schema.InfluentialL2) error {
	return retryBusy(func() error {
		tx, err := r.DB.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM influential_l2 WHERE user_did = ?", userDid); err != nil {
			return err
		}
		if err := chunked(rows, func(chunk []*schema.InfluentialL2) error {
			_, err := tx.NamedExec(
				`INSERT INTO influential_l2 (user_did, l2_did, influence_score, l1_follower_count, updated_at)
				 VALUES (:user_did, :l2_did, :influence_score, :l1_follower_count, :updated_at)`, chunk)
			return err
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (r *Repository) InfluentialL2(userDid string) ([]*schema.InfluentialL2, error) {
	var rows []schema.InfluentialL2
	err := r.DB.Select(&rows,
		`SELECT * FROM influential_l2 WHERE user_did = ?
		 ORDER BY influence_score DESC`, userDid)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.InfluentialL2, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
