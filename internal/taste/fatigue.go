// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taste

import (
	"errors"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	fatigueMin  = -100.0
	fatigueMax  = 100.0
	affinityMin = 0.1
	affinityMax = 10.0
)

func (e *Engine) loadFatigue(userDid, authorDid string) *schema.AuthorFatigue {
	row, err := e.repo.GetAuthorFatigue(userDid, authorDid)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("taste: fatigue load (%s,%s): %v", userDid, authorDid, err)
		}
		return &schema.AuthorFatigue{
			UserDid:       userDid,
			AuthorDid:     authorDid,
			AffinityScore: 1.0,
		}
	}
	return row
}

// OnServed bumps the author's fatigue after their post was placed into
// a feed response. Long pauses between serves recover part of the
// accumulated fatigue before the increment applies.
func (e *Engine) OnServed(userDid, authorDid string) {
	mu := e.lock(userDid, authorDid)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	row := e.loadFatigue(userDid, authorDid)

	if row.LastServedAt > 0 && row.FatigueScore > 0 {
		idle := time.Duration(now-row.LastServedAt) * time.Millisecond
		switch {
		case idle >= 48*time.Hour:
			row.FatigueScore *= 0.7
		case idle >= 24*time.Hour:
			row.FatigueScore *= 0.85
		}
	}

	row.ServeCount++
	switch {
	case row.ServeCount <= 3:
		row.FatigueScore += 3
	case row.ServeCount <= 10:
		row.FatigueScore += 5
	default:
		row.FatigueScore += 8
	}
	row.AffinityScore -= 0.05 // passive cooling

	row.FatigueScore = clamp(row.FatigueScore, fatigueMin, fatigueMax)
	row.AffinityScore = clamp(row.AffinityScore, affinityMin, affinityMax)
	row.LastServedAt = now
	row.UpdatedAt = now

	if err := e.repo.PutAuthorFatigue(row); err != nil {
		log.Warnf("taste: fatigue-on-serve (%s,%s): %v", userDid, authorDid, err)
	}
}

// OnInteraction relieves fatigue and builds affinity when the user
// actively engages with the author. The first interaction after a
// long quiet stretch counts extra.
func (e *Engine) OnInteraction(userDid, authorDid string, kind schema.InteractionType) {
	if userDid == authorDid {
		return
	}

	mu := e.lock(userDid, authorDid)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	row := e.loadFatigue(userDid, authorDid)

	var fatigueDelta, affinityDelta, weight float64
	switch kind {
	case schema.InteractionLike:
		fatigueDelta, affinityDelta, weight = -25, 0.8, 1
	case schema.InteractionRepost:
		fatigueDelta, affinityDelta, weight = -30, 1.2, 2
	case schema.InteractionReply:
		fatigueDelta, affinityDelta, weight = -20, 0.5, 1
	default:
		return
	}

	firstInAWhile := row.LastInteractionAt == 0 ||
		time.Duration(now-row.LastInteractionAt)*time.Millisecond >= 72*time.Hour
	if firstInAWhile {
		fatigueDelta *= 1.2
		affinityDelta *= 1.5
	}

	row.FatigueScore = clamp(row.FatigueScore+fatigueDelta, fatigueMin, fatigueMax)
	row.AffinityScore = clamp(row.AffinityScore+affinityDelta, affinityMin, affinityMax)
	row.InteractionWeight += weight
	row.InteractionCount++
	row.LastInteractionAt = now
	row.UpdatedAt = now

	if err := e.repo.PutAuthorFatigue(row); err != nil {
		log.Warnf("taste: fatigue-on-interaction (%s,%s): %v", userDid, authorDid, err)
	}
}
