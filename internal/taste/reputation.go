// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taste

import (
	"errors"
	"math"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// Action names the reputation events.
type Action string

const (
	ActionAgreement    Action = "agreement"
	ActionDisagreement Action = "disagreement"
	ActionExplicitMore Action = "explicit_more"
	ActionExplicitLess Action = "explicit_less"
	ActionServedLiked  Action = "served_liked"
	ActionServedIgnore Action = "served_ignored"
)

const (
	reputationMin = 0.001
	reputationMax = 5.0
	decayRateMin  = 0.5
	decayRateMax  = 0.999

	// Reputation a fresh pair starts with when discovered through an
	// agreement (co-like). Other actions start from neutral 1.0.
	bootstrapAgreementScore = 1.2
)

// UpdateReputation applies time decay followed by the action-specific
// multiplier to the (user, similar) reputation pair, serialized per
// pair. The decay is idempotent (anchored on updatedAt); the
// multiplier is approximately-once under concurrent duplicates.
func (e *Engine) UpdateReputation(userDid, similarDid string, action Action) {
	if userDid == similarDid {
		return
	}

	mu := e.lock(userDid, similarDid)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	row, err := e.repo.GetTasteReputation(userDid, similarDid)
	if errors.Is(err, repository.ErrNotFound) {
		row = &schema.TasteReputation{
			UserDid:         userDid,
			SimilarUserDid:  similarDid,
			ReputationScore: 1.0,
			DecayRate:       0.95,
			LastSeenAt:      now,
			UpdatedAt:       now,
		}
		if action == ActionAgreement {
			row.ReputationScore = bootstrapAgreementScore
			row.AgreementHistory = 1
			if err := e.put(row); err != nil {
				log.Warnf("taste: reputation insert (%s,%s): %v", userDid, similarDid, err)
			}
			return
		}
	} else if err != nil {
		log.Warnf("taste: reputation load (%s,%s): %v", userDid, similarDid, err)
		return
	} else {
		hours := float64(now-row.UpdatedAt) / float64(time.Hour.Milliseconds())
		if hours > 0 {
			row.ReputationScore *= math.Pow(row.DecayRate, hours/24)
		}
	}

	switch action {
	case ActionAgreement:
		row.ReputationScore = math.Min(row.ReputationScore*1.15, 3.0)
		row.AgreementHistory++
		row.DecayRate = clamp(row.DecayRate+0.005, decayRateMin, decayRateMax)
	case ActionDisagreement:
		row.ReputationScore = math.Max(row.ReputationScore*0.85, 0.1)
		row.AgreementHistory--
		row.DecayRate = clamp(row.DecayRate-0.01, decayRateMin, decayRateMax)
	case ActionExplicitMore:
		row.ReputationScore = math.Min(row.ReputationScore*1.6, 5.0)
		row.AgreementHistory += 2
		row.DecayRate = clamp(row.DecayRate+0.005, decayRateMin, decayRateMax)
	case ActionExplicitLess:
		row.ReputationScore = math.Max(row.ReputationScore*0.1, reputationMin)
		row.AgreementHistory -= 2
		row.DecayRate = clamp(row.DecayRate-0.01, decayRateMin, decayRateMax)
	case ActionServedLiked:
		row.ReputationScore *= 1.05
	case ActionServedIgnore:
		row.ReputationScore *= 0.95
	default:
		log.Warnf("taste: unknown reputation action %q", action)
		return
	}

	row.ReputationScore = clamp(row.ReputationScore, reputationMin, reputationMax)
	row.LastSeenAt = now
	row.UpdatedAt = now

	if err := e.put(row); err != nil {
		log.Warnf("taste: reputation upsert (%s,%s): %v", userDid, similarDid, err)
	}
}

func (e *Engine) put(row *schema.TasteReputation) error {
	return e.repo.PutTasteReputation(row)
}
