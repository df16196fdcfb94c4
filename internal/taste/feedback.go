// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taste

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// Strength grades explicit feedback.
type Strength string

const (
	StrengthStrong Strength = "strong"
	StrengthWeak   Strength = "weak"
)

const feedbackLikerCap = 50

// ExplicitFeedback applies a "show me more/less of this" signal from
// the client. It moves the author's affinity and fatigue, the user's
// keyword profile (words of the post, length ≥ 4), and the reputation
// of the post's likers.
func (e *Engine) ExplicitFeedback(ctx context.Context, userDid string, post *schema.Post, more bool, strength Strength) {
	var affinityDelta, fatigueDelta, keywordDelta float64
	if strength == StrengthStrong {
		affinityDelta, fatigueDelta, keywordDelta = 5.0, 60, 0.3
	} else {
		affinityDelta, fatigueDelta, keywordDelta = 1.0, 20, 0.1
	}
	if !more {
		affinityDelta, fatigueDelta, keywordDelta = -affinityDelta, -fatigueDelta, -keywordDelta
	}

	mu := e.lock(userDid, post.Author)
	mu.Lock()
	now := time.Now().UnixMilli()
	row := e.loadFatigue(userDid, post.Author)
	row.AffinityScore = clamp(row.AffinityScore+affinityDelta, affinityMin, affinityMax)
	// More wanted means less fatigue, and vice versa.
	row.FatigueScore = clamp(row.FatigueScore-fatigueDelta, fatigueMin, fatigueMax)
	row.UpdatedAt = now
	if err := e.repo.PutAuthorFatigue(row); err != nil {
		log.Warnf("taste: feedback fatigue (%s,%s): %v", userDid, post.Author, err)
	}
	mu.Unlock()

	e.adjustKeywords(userDid, post.Text, keywordDelta, now)

	action := ActionExplicitMore
	if !more {
		action = ActionExplicitLess
	}
	for _, liker := range e.likers.PostLikers(ctx, post.URI, feedbackLikerCap) {
		if liker == userDid {
			continue
		}
		e.UpdateReputation(userDid, liker, action)
	}
}

// adjustKeywords shifts the score of every qualifying word in the post
// text, clamped to [-1, 1]. Restricted keywords are never touched.
func (e *Engine) adjustKeywords(userDid, text string, delta float64, nowMs int64) {
	if text == "" || delta == 0 {
		return
	}

	existing, err := e.repo.KeywordsFor(userDid)
	if err != nil {
		log.Warnf("taste: keyword load for %s: %v", userDid, err)
		return
	}
	scores := make(map[string]float64, len(existing))
	for _, kw := range existing {
		scores[kw.Keyword] = kw.Score
	}

	seen := make(map[string]bool)
	var updates []*schema.UserKeyword
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(word)) < 4 || seen[word] || e.restrictedKeywords[word] {
			continue
		}
		seen[word] = true

		updates = append(updates, &schema.UserKeyword{
			UserDid:   userDid,
			Keyword:   word,
			Score:     clamp(scores[word]+delta, -1.0, 1.0),
			UpdatedAt: nowMs,
		})
	}

	if len(updates) > 0 {
		if err := e.repo.UpsertKeywords(updates); err != nil {
			log.Warnf("taste: keyword adjust for %s: %v", userDid, err)
		}
	}
}
