// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taste

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

type fakeLikers struct {
	likers []string
}

func (f *fakeLikers) PostLikers(ctx context.Context, postURI string, limit int) []string {
	if len(f.likers) > limit {
		return f.likers[:limit]
	}
	return f.likers
}

func setup(t *testing.T, likers []string) (*Engine, *repository.Repository) {
	t.Helper()
	repository.Connect(":memory:")
	repo := repository.GetRepository()
	return New(repo, &fakeLikers{likers: likers}, []string{"restricted"}), repo
}

func TestOnLikeBootstrapsTwins(t *testing.T) {
	e, repo := setup(t, []string{"did:x", "did:y", "did:u0"})

	post := &schema.Post{URI: "at://pa", Author: "did:a"}
	e.OnLike(context.Background(), "did:u0", post)

	repX, err := repo.GetTasteReputation("did:u0", "did:x")
	require.NoError(t, err)
	assert.InDelta(t, 1.2, repX.ReputationScore, 1e-9)

	repY, err := repo.GetTasteReputation("did:u0", "did:y")
	require.NoError(t, err)
	assert.InDelta(t, 1.2, repY.ReputationScore, 1e-9)

	// The liker list includes the user; no self edge is created.
	_, err = repo.GetTasteReputation("did:u0", "did:u0")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReputationBoundsHold(t *testing.T) {
	e, repo := setup(t, nil)

	for i := 0; i < 50; i++ {
		e.UpdateReputation("did:u", "did:v", ActionExplicitMore)
	}
	row, err := repo.GetTasteReputation("did:u", "did:v")
	require.NoError(t, err)
	assert.LessOrEqual(t, row.ReputationScore, 5.0)

	for i := 0; i < 50; i++ {
		e.UpdateReputation("did:u", "did:v", ActionExplicitLess)
	}
	row, err = repo.GetTasteReputation("did:u", "did:v")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, row.ReputationScore, 0.001)
}

func TestAgreementCapsAtThree(t *testing.T) {
	e, repo := setup(t, nil)

	for i := 0; i < 30; i++ {
		e.UpdateReputation("did:u", "did:w", ActionAgreement)
	}
	row, err := repo.GetTasteReputation("did:u", "did:w")
	require.NoError(t, err)
	assert.LessOrEqual(t, row.ReputationScore, 3.0)
	assert.Greater(t, row.ReputationScore, 2.5)
}

func TestExplicitLessPropagation(t *testing.T) {
	e, repo := setup(t, []string{"did:x", "did:y"})

	// Pre-existing reputations so the multiplication is observable.
	now := time.Now().UnixMilli()
	for _, did := range []string{"did:x", "did:y"} {
		require.NoError(t, repo.PutTasteReputation(&schema.TasteReputation{
			UserDid: "did:u", SimilarUserDid: did,
			ReputationScore: 2.0, DecayRate: 0.95, LastSeenAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, repo.PutAuthorFatigue(&schema.AuthorFatigue{
		UserDid: "did:u", AuthorDid: "did:a",
		AffinityScore: 6.0, FatigueScore: 0, UpdatedAt: now,
	}))

	post := &schema.Post{URI: "at://pp", Author: "did:a", Text: "some lengthy words here"}
	e.ExplicitFeedback(context.Background(), "did:u", post, false, StrengthStrong)

	fat, err := repo.GetAuthorFatigue("did:u", "did:a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fat.AffinityScore, 1e-9) // 6.0 - 5.0
	assert.InDelta(t, 60.0, fat.FatigueScore, 1e-9)

	repX, err := repo.GetTasteReputation("did:u", "did:x")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, repX.ReputationScore, 1e-6) // 2.0 * 0.1

	repY, err := repo.GetTasteReputation("did:u", "did:y")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, repY.ReputationScore, 1e-6)
}

func TestExplicitFeedbackAdjustsKeywords(t *testing.T) {
	e, repo := setup(t, nil)

	post := &schema.Post{URI: "at://kw", Author: "did:a", Text: "gophers love restricted concurrency a lot"}
	e.ExplicitFeedback(context.Background(), "did:u9", post, true, StrengthStrong)

	kws, err := repo.KeywordsFor("did:u9")
	require.NoError(t, err)

	byWord := make(map[string]float64)
	for _, kw := range kws {
		byWord[kw.Keyword] = kw.Score
	}

	assert.InDelta(t, 0.3, byWord["gophers"], 1e-9)
	assert.InDelta(t, 0.3, byWord["concurrency"], 1e-9)
	assert.NotContains(t, byWord, "restricted", "restricted keywords must not move")
	assert.NotContains(t, byWord, "lot", "words under four runes are skipped")
}

func TestServeFatigueBands(t *testing.T) {
	e, repo := setup(t, nil)

	for i := 0; i < 4; i++ {
		e.OnServed("did:u", "did:served")
	}

	row, err := repo.GetAuthorFatigue("did:u", "did:served")
	require.NoError(t, err)
	// Three serves at +3, the fourth at +5.
	assert.InDelta(t, 14.0, row.FatigueScore, 1e-9)
	assert.InDelta(t, 1.0-4*0.05, row.AffinityScore, 1e-9)
	assert.Equal(t, int64(4), row.ServeCount)
}

func TestInteractionRelievesFatigue(t *testing.T) {
	e, repo := setup(t, nil)

	now := time.Now().UnixMilli()
	require.NoError(t, repo.PutAuthorFatigue(&schema.AuthorFatigue{
		UserDid: "did:u", AuthorDid: "did:b",
		FatigueScore: 50, AffinityScore: 1.0,
		LastInteractionAt: now, UpdatedAt: now,
	}))

	e.OnInteraction("did:u", "did:b", schema.InteractionRepost)

	row, err := repo.GetAuthorFatigue("did:u", "did:b")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, row.FatigueScore, 1e-9) // 50 - 30
	assert.InDelta(t, 2.2, row.AffinityScore, 1e-9) // 1.0 + 1.2
	assert.Equal(t, int64(1), row.InteractionCount)
}

func TestFatigueClamps(t *testing.T) {
	e, repo := setup(t, nil)

	for i := 0; i < 30; i++ {
		e.OnInteraction("did:u", "did:c", schema.InteractionRepost)
	}

	row, err := repo.GetAuthorFatigue("did:u", "did:c")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, row.FatigueScore, -100.0)
	assert.LessOrEqual(t, row.AffinityScore, 10.0)
}
