// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// InteractionType discriminates graph_interaction rows. The weight
// column carries the effort weight used by taste and network signals
// (likes 1, reposts 2, replies 1).
type InteractionType string

const (
	InteractionLike   InteractionType = "like"
	InteractionRepost InteractionType = "repost"
	InteractionReply  InteractionType = "reply"
)

// FollowEdge is a directed follow. Unique on (follower, followee).
type FollowEdge struct {
	Follower  string `db:"follower"`
	Followee  string `db:"followee"`
	IndexedAt int64  `db:"indexed_at"`
}

// InteractionEdge records that an actor liked/reposted/replied-to a
// target author's post. Unique on (actor, target, type).
type InteractionEdge struct {
	Actor          string          `db:"actor"`
	Target         string          `db:"target"`
	Type           InteractionType `db:"type"`
	Weight         int64           `db:"weight"`
	IndexedAt      int64           `db:"indexed_at"`
	InteractionURI string          `db:"interaction_uri"`
}

// InfluentialL2 is one cached second-layer account ranked by how many
// of the user's L1 follows lead to it versus its total follower count.
type InfluentialL2 struct {
	UserDid         string  `db:"user_did"`
	L2Did           string  `db:"l2_did"`
	InfluenceScore  float64 `db:"influence_score"`
	L1FollowerCount int64   `db:"l1_follower_count"`
	UpdatedAt       int64   `db:"updated_at"`
}
