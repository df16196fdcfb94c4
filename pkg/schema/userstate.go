// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// UserKeyword is one learned interest keyword. Score stays within
// [-1.0, 1.0]; entries below |0.1| are pruned by the keyword job.
type UserKeyword struct {
	UserDid   string  `db:"user_did"`
	Keyword   string  `db:"keyword"`
	Score     float64 `db:"score"`
	UpdatedAt int64   `db:"updated_at"`
}

// TasteSimilarity counts co-likes between two users.
type TasteSimilarity struct {
	UserDid          string `db:"user_did"`
	SimilarUserDid   string `db:"similar_user_did"`
	AgreementCount   int64  `db:"agreement_count"`
	TotalCoLiked     int64  `db:"total_co_liked_posts"`
	LastAgreementAt  int64  `db:"last_agreement_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

// TasteReputation holds the decaying trust score toward a taste-twin.
// ReputationScore stays within [0.001, 5.0] and decays multiplicatively
// with decay_rate^(hoursSinceUpdate/24) before every update.
type TasteReputation struct {
	UserDid          string  `db:"user_did"`
	SimilarUserDid   string  `db:"similar_user_did"`
	ReputationScore  float64 `db:"reputation_score"`
	AgreementHistory float64 `db:"agreement_history"`
	LastSeenAt       int64   `db:"last_seen_at"`
	DecayRate        float64 `db:"decay_rate"`
	UpdatedAt        int64   `db:"updated_at"`
}

// AuthorFatigue tracks how tired a user is of one author, plus the
// opposing affinity built from interactions.
type AuthorFatigue struct {
	UserDid           string  `db:"user_did"`
	AuthorDid         string  `db:"author_did"`
	ServeCount        int64   `db:"serve_count"`
	LastServedAt      int64   `db:"last_served_at"`
	FatigueScore      float64 `db:"fatigue_score"`
	AffinityScore     float64 `db:"affinity_score"`
	InteractionWeight float64 `db:"interaction_weight"`
	LastInteractionAt int64   `db:"last_interaction_at"`
	InteractionCount  int64   `db:"interaction_count"`
	UpdatedAt         int64   `db:"updated_at"`
}

// CandidateBatchRow is one pre-computed semantic candidate. Rows expire
// 12 h after GeneratedAt.
type CandidateBatchRow struct {
	UserDid       string  `db:"user_did"`
	URI           string  `db:"uri"`
	SemanticScore float64 `db:"semantic_score"`
	PipelineScore float64 `db:"pipeline_score"`
	CentroidID    string  `db:"centroid_id"`
	BatchID       string  `db:"batch_id"`
	GeneratedAt   int64   `db:"generated_at"`
}

// ServedPost logs a URI placed into a feed response. GC after 6 h.
type ServedPost struct {
	UserDid  string `db:"user_did"`
	URI      string `db:"uri"`
	ServedAt int64  `db:"served_at"`
}

// SeenPost logs a URI the client reported as visible. GC after 8 h.
type SeenPost struct {
	UserDid string `db:"user_did"`
	URI     string `db:"uri"`
	SeenAt  int64  `db:"seen_at"`
}
