// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// Half-life constants for the exponential decays.
const (
	recencyHalfLifeH = 24.0
	tierHalfLifeH    = 336.0
)

func ageHours(nowMs, indexedAtMs int64) float64 {
	h := float64(nowMs-indexedAtMs) / float64(time.Hour.Milliseconds())
	if h < 0 {
		return 0
	}
	return h
}

func halfLife(age, halfLifeH float64) float64 {
	return math.Pow(0.5, age/halfLifeH)
}

// score computes every additive signal for one candidate. Signals are
// named and kept on the candidate so tests and debug output can
// inspect the breakdown.
func (c *Core) score(rc *rankContext, cand *Candidate, eff *networkEffort, thread *threadInfo, parent *schema.Post, batchMode bool) {
	p := cand.Post
	age := ageHours(rc.nowMs, p.IndexedAt)
	outsideGraph := !rc.inSocialGraph(p.Author)
	cand.relation = rc.relationOf(p.Author)
	cand.seenCount = rc.seen[p.URI]

	cand.addSignal("recency", 10*halfLife(age, recencyHalfLifeH))

	// Social tier with affinity shading.
	affinity := rc.affinityOf(p.Author)
	tierDecay := halfLife(age, tierHalfLifeH)
	switch cand.relation {
	case relationL1:
		mult := 1.0
		if rc.mutuals[p.Author] {
			mult = 2.5
		}
		cand.addSignal("tier", 3000*tierDecay*mult*(0.8+0.2*affinity))
	case relationInteracted:
		cand.addSignal("tier", 1500*tierDecay*(0.8+0.2*affinity))
	case relationL2:
		cand.addSignal("tier", 500*tierDecay*(0.9+0.1*affinity))
	case relationUnknown:
		cand.addSignal("tier", 50*tierDecay)
	}

	var networkActors int
	if eff != nil {
		networkActors = len(eff.actors)
		cand.addSignal("network_effort",
			math.Round(math.Pow(float64(eff.likes+eff.reposts), 1.5)*200))
		cand.RepostURI = eff.repostURI
	}

	cand.addSignal("engagement", 15*float64(p.LikeCount)+30*float64(p.RepostCount))

	c.scoreKeywords(rc, cand, outsideGraph, batchMode)

	if tl, ok := rc.twinLiked[p.URI]; ok && tl.count > 0 {
		consensus := math.Min(4, 1+0.8*float64(tl.count-1))
		cand.addSignal("taste", tl.maxRep*2500*consensus)
	}

	if outsideGraph {
		sandbox := -4000.0
		if batchMode {
			sandbox = -2000.0
		} else if p.LikeCount > 50 {
			sandbox = -1500.0
		}
		cand.addSignal("sandbox", sandbox)

		if (p.HasImage || p.HasVideo) && rc.mediaRatio < 0.2 {
			cand.addSignal("media_mismatch", -1500)
		}
	}

	if p.IsReply() {
		c.scoreReply(rc, cand, thread, parent, networkActors)
	} else {
		opBoost := math.Min(300, 0.10*cand.Score)
		if thread != nil {
			opBoost += thread.opBoost
		}
		cand.addSignal("op_boost", opBoost)
	}

	if age < 1 && p.Engagement() == 0 {
		cand.addSignal("ghost_penalty", -500)
	}
	if age > 24 && outsideGraph && networkActors == 0 {
		cand.addSignal("cold_unknown_penalty", -1000)
	}

	if rc.likedURIs[p.URI] {
		cand.addSignal("already_liked", -8000)
	}
	if rc.repostedURIs[p.URI] {
		cand.addSignal("already_reposted", -6000)
	}
	if rc.repliedURIs[p.URI] {
		cand.addSignal("already_replied", -5000)
	}

	c.scoreAuthorFatigue(rc, cand)

	if thread != nil && thread.chainAuthor == p.Author {
		c.scoreSelfReplyChain(cand, thread)
	}

	// Deterministic jitter: same (uri, user) pair always lands on the
	// same offset, so pagination stays stable.
	jitterRange := int64(1200)
	if outsideGraph && cand.Signals["taste"] == 0 && cand.Signals["keyword"] == 0 {
		jitterRange = 300
	}
	h := xxhash.Sum64String(p.URI + "\x1f" + rc.userDid)
	cand.addSignal("jitter", float64(h%uint64(jitterRange)))

	if !batchMode && cand.seenCount > 0 {
		multiplier := math.Pow(0.5, float64(cand.seenCount))
		cand.Signals["seen_multiplier"] = multiplier
		cand.Score *= multiplier
	}
}

func (c *Core) scoreKeywords(rc *rankContext, cand *Candidate, outsideGraph, batchMode bool) {
	text := cand.Post.Text
	if text == "" || len(rc.keywords) == 0 {
		return
	}
	lowered := strings.ToLower(text)

	weight := 100.0
	if outsideGraph {
		weight = 1200.0
		if batchMode {
			weight = 800.0
		}
	}

	total := 0.0
	for _, kw := range rc.keywords {
		if wholeWordMatch(lowered, kw.Keyword) {
			total += kw.Score * weight
		}
	}
	cand.addSignal("keyword", total)
}

// wholeWordMatch reports whether word occurs in text on word
// boundaries.
func wholeWordMatch(text, word string) bool {
	if word == "" {
		return false
	}

	start := 0
	for {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start

		boundaryBefore := idx == 0 || !isWordRune(rune(text[idx-1]))
		endIdx := idx + len(word)
		boundaryAfter := endIdx >= len(text) || !isWordRune(rune(text[endIdx]))
		if boundaryBefore && boundaryAfter {
			return true
		}

		start = idx + 1
		if start >= len(text) {
			return false
		}
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (c *Core) scoreReply(rc *rankContext, cand *Candidate, thread *threadInfo, parent *schema.Post, networkActors int) {
	p := cand.Post
	cand.addSignal("reply_base", -800)

	if rc.mutuals[p.Author] {
		cand.addSignal("reply_mutual", 600)
	}

	engagement := p.Engagement()
	if engagement >= 5 {
		cand.addSignal("reply_popularity", 300)
	} else if engagement >= 2 {
		cand.addSignal("reply_popularity", 100)
	}

	switch cand.relation {
	case relationL1:
		cand.addSignal("reply_graph_tier", 400)
	case relationInteracted:
		cand.addSignal("reply_graph_tier", 200)
	case relationL2:
		cand.addSignal("reply_graph_tier", 100)
	}

	if thread != nil && thread.multiPerson {
		if len(thread.graphReplies[p.Author]) > 1 {
			penalty := -400.0
			graphReplies := 0
			for _, posts := range thread.graphReplies {
				graphReplies += len(posts)
			}
			penalty -= math.Min(100*float64(graphReplies), 500)
			cand.addSignal("reply_repetition_penalty", penalty)
		}
	}

	if parent != nil {
		parentAge := ageHours(rc.nowMs, parent.IndexedAt)
		if parentAge > 24 {
			cand.addSignal("reply_old_parent", -math.Min(5*parentAge, 300))
		}
	}

	if networkActors > 0 {
		cand.addSignal("reply_network", 50*float64(networkActors))
	}
}

func (c *Core) scoreAuthorFatigue(rc *rankContext, cand *Candidate) {
	row, ok := rc.fatigue[cand.Post.Author]
	if !ok {
		return
	}

	if row.FatigueScore < 0 {
		cand.addSignal("author_fatigue", 50*(-row.FatigueScore))
		return
	}
	if row.FatigueScore <= 40 {
		return
	}

	penalty := 80 * (row.FatigueScore - 30)

	// Recently hammered authors weigh extra.
	if row.LastServedAt > 0 {
		idle := time.Duration(rc.nowMs-row.LastServedAt) * time.Millisecond
		switch {
		case idle < 6*time.Hour:
			penalty *= 1.5
		case idle < 24*time.Hour:
			penalty *= 1.2
		}
	}

	// Strong posts bleed through fatigue.
	switch {
	case cand.Post.LikeCount >= 50:
		penalty *= 0.3
	case cand.Post.LikeCount >= 10:
		penalty *= 0.5
	case cand.Post.LikeCount >= 3:
		penalty *= 0.7
	}

	cand.addSignal("author_fatigue", -penalty)
}

func (c *Core) scoreSelfReplyChain(cand *Candidate, thread *threadInfo) {
	if thread.chainDepth < 2 {
		return
	}

	penalty := -1000.0
	if thread.chainDepth >= 3 {
		penalty = -2000.0
	}
	if thread.authorReplyCount >= 5 {
		penalty -= 1000
	} else if thread.authorReplyCount >= 3 {
		penalty -= 500
	}

	if cand.Post.Engagement() >= 2 {
		penalty /= 2
	}
	cand.addSignal("self_reply_chain", penalty)
}
