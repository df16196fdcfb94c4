// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package keywords rebuilds each user's keyword profile from their
// liked-post corpus against a random background corpus.
package keywords

import (
	"context"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/extern"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	likedCorpusWindow = 7 * 24 * time.Hour
	likedCorpusLimit  = 500
	backgroundSize    = 1000
	pruneThreshold    = 0.1
)

type Engine struct {
	repo      *repository.Repository
	extractor extern.KeywordExtractor
}

func New(repo *repository.Repository, extractor extern.KeywordExtractor) *Engine {
	return &Engine{repo: repo, extractor: extractor}
}

// decayFactor implements the parabolic decay: scores near the rails
// decay faster than scores near zero, so stale strong signals fade
// while weak fresh ones persist.
func decayFactor(existing float64) float64 {
	abs := existing
	if abs < 0 {
		abs = -abs
	}
	parabolic := 1 - (1-abs)*(1-abs)
	return 1 - (0.03 + 0.12*parabolic)
}

// RebuildFor refreshes one user's keyword scores. Keywords absent from
// this round's extraction decay by the same factor and are pruned once
// below the threshold.
func (e *Engine) RebuildFor(ctx context.Context, userDid string) error {
	since := time.Now().Add(-likedCorpusWindow).UnixMilli()
	liked, err := e.repo.LikedPostTexts(userDid, since, likedCorpusLimit)
	if err != nil {
		return err
	}
	if len(liked) == 0 {
		log.Debugf("keywords: %s has no liked corpus, skipping", userDid)
		return nil
	}

	backgroundPosts, err := e.repo.RandomPosts(backgroundSize)
	if err != nil {
		return err
	}
	background := make([]string, len(backgroundPosts))
	for i, p := range backgroundPosts {
		background[i] = p.Text
	}

	extracted, err := e.extractor.Extract(ctx, liked, background)
	if err != nil {
		return err
	}

	fresh := make(map[string]float64, len(extracted))
	for _, kw := range extracted {
		fresh[kw.Word] = kw.Score
	}

	existing, err := e.repo.KeywordsFor(userDid)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	var updates []*schema.UserKeyword

	for _, kw := range existing {
		score := decayFactor(kw.Score)*kw.Score + fresh[kw.Keyword]
		delete(fresh, kw.Keyword)
		updates = append(updates, &schema.UserKeyword{
			UserDid:   userDid,
			Keyword:   kw.Keyword,
			Score:     clampScore(score),
			UpdatedAt: now,
		})
	}
	for word, score := range fresh {
		updates = append(updates, &schema.UserKeyword{
			UserDid:   userDid,
			Keyword:   word,
			Score:     clampScore(score),
			UpdatedAt: now,
		})
	}

	if err := e.repo.UpsertKeywords(updates); err != nil {
		return err
	}
	if err := e.repo.PruneKeywords(userDid, pruneThreshold); err != nil {
		return err
	}

	log.Debugf("keywords: rebuilt %d entries for %s", len(updates), userDid)
	return nil
}

func clampScore(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
