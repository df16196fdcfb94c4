// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"sort"
)

// Reply score floors by relationship. Outside the floor a reply is
// noise, not conversation.
var replyFloors = map[relation]float64{
	relationSelf:       -2000,
	relationL1:         -1000,
	relationInteracted: -500,
	relationL2:         0,
	relationUnknown:    500,
}

// filter applies the hard drops: already-liked posts, worn-out
// zero-engagement posts, originals below the sandbox bottom, replies
// below their relationship floor. In multi-person conversations only
// the highest-scoring reply survives.
func (c *Core) filter(rc *rankContext, candidates []*Candidate, threads map[string]*threadInfo) []*Candidate {
	bestReply := make(map[string]*Candidate)
	for _, cand := range candidates {
		if !cand.Post.IsReply() {
			continue
		}
		root := cand.Post.ReplyRoot
		if info, ok := threads[root]; ok && info.multiPerson {
			if best, ok := bestReply[root]; !ok || cand.Score > best.Score {
				bestReply[root] = cand
			}
		}
	}

	out := candidates[:0]
	for _, cand := range candidates {
		if rc.likedURIs[cand.Post.URI] {
			continue
		}
		if cand.Post.Engagement() == 0 && cand.seenCount >= 3 {
			continue
		}

		if cand.Post.IsReply() {
			if cand.Score <= replyFloors[cand.relation] {
				continue
			}
			root := cand.Post.ReplyRoot
			if info, ok := threads[root]; ok && info.multiPerson && bestReply[root] != cand {
				continue
			}
		} else if cand.Score <= -5000 {
			continue
		}

		out = append(out, cand)
	}
	return out
}

// dedup caps how much of one conversation reaches the feed: at most
// two originals per root, and replies limited by actor relationship.
func (c *Core) dedup(rc *rankContext, candidates []*Candidate) []*Candidate {
	sort.SliceStable(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })

	type rootState struct {
		originals     int
		mutualReplies int
		popularL1     int
		inGraph       int
		unknown       int
	}
	perRoot := make(map[string]*rootState)
	state := func(root string) *rootState {
		s, ok := perRoot[root]
		if !ok {
			s = &rootState{}
			perRoot[root] = s
		}
		return s
	}

	out := candidates[:0]
	for _, cand := range candidates {
		root := cand.Post.ReplyRoot
		if root == "" {
			root = cand.Post.URI
		}
		s := state(root)

		if !cand.Post.IsReply() {
			if s.originals >= 2 {
				continue
			}
			s.originals++
			out = append(out, cand)
			continue
		}

		switch {
		case rc.mutuals[cand.Post.Author]:
			if s.mutualReplies >= 3 {
				continue
			}
			s.mutualReplies++
		case cand.relation == relationL1 && cand.Post.Engagement() >= 2:
			if s.popularL1 >= 2 {
				continue
			}
			s.popularL1++
		case cand.relation == relationL1 || cand.relation == relationInteracted || cand.relation == relationL2:
			if s.inGraph >= 1 || cand.Score <= 100 {
				continue
			}
			s.inGraph++
		default:
			if s.unknown >= 1 || cand.Score <= 500 {
				continue
			}
			s.unknown++
		}
		out = append(out, cand)
	}
	return out
}
