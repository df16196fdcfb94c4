// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// threadInfo is the per-root conversation analysis.
type threadInfo struct {
	root string

	// Replies from social-graph users, by author.
	graphReplies   map[string][]*schema.Post
	graphActors    int
	multiPerson    bool
	opBoost        float64

	// Self-reply chain of the root author.
	chainAuthor     string
	chainDepth      int
	authorReplyCount int
}

// analyzeThreads groups the candidates by reply root and derives the
// conversation signals: multi-person detection, the original-poster
// boost and self-reply chains.
func (c *Core) analyzeThreads(rc *rankContext, candidates []*schema.Post) map[string]*threadInfo {
	rootSet := make(map[string]bool)
	for _, p := range candidates {
		if p.ReplyRoot != "" {
			rootSet[p.ReplyRoot] = true
		} else if p.ReplyCount > 0 {
			// An original with replies may itself host a conversation.
			rootSet[p.URI] = true
		}
	}
	if len(rootSet) == 0 {
		return nil
	}

	byRoot, err := c.repo.PostsByRoot(keys(rootSet))
	if err != nil {
		log.Warnf("ranking: thread fetch: %v", err)
		return nil
	}

	rootPosts, err := c.repo.FindPosts(keys(rootSet))
	if err != nil {
		log.Warnf("ranking: root fetch: %v", err)
	}

	out := make(map[string]*threadInfo, len(byRoot))
	for root, replies := range byRoot {
		info := &threadInfo{root: root, graphReplies: make(map[string][]*schema.Post)}

		var l1Replies, l2Replies, mutualReplies int
		for _, reply := range replies {
			rel := rc.relationOf(reply.Author)
			if rel == relationL1 || rel == relationL2 || rel == relationInteracted {
				info.graphReplies[reply.Author] = append(info.graphReplies[reply.Author], reply)
			}
			switch {
			case rc.mutuals[reply.Author]:
				mutualReplies++
			case rel == relationL1:
				l1Replies++
			case rel == relationL2:
				l2Replies++
			}
		}
		info.graphActors = len(info.graphReplies)

		graphReplyTotal := l1Replies + l2Replies + mutualReplies
		info.multiPerson = graphReplyTotal >= 2

		info.opBoost = 150*float64(l1Replies) + 75*float64(l2Replies) + 200*float64(mutualReplies)
		switch {
		case graphReplyTotal >= 5:
			info.opBoost += 500
		case graphReplyTotal >= 3:
			info.opBoost += 300
		}

		// Self-reply chain: the root author replying to themselves in
		// sequence. Depth is the longest consecutive run.
		if rootPost, ok := rootPosts[root]; ok {
			info.chainAuthor = rootPost.Author
			info.chainDepth, info.authorReplyCount = selfReplyChain(rootPost, replies)
		}

		out[root] = info
	}
	return out
}

// selfReplyChain walks parent links downward from the root counting
// the author's consecutive replies. Returns the longest chain depth
// and the author's total reply count in the thread.
func selfReplyChain(root *schema.Post, replies []*schema.Post) (int, int) {
	byParent := make(map[string][]*schema.Post, len(replies))
	total := 0
	for _, r := range replies {
		byParent[r.ReplyParent] = append(byParent[r.ReplyParent], r)
		if r.Author == root.Author {
			total++
		}
	}

	depth := 0
	parents := []string{root.URI}
	for {
		var next []string
		for _, parent := range parents {
			for _, r := range byParent[parent] {
				if r.Author == root.Author {
					next = append(next, r.URI)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		depth++
		parents = next

		if depth > len(replies) {
			// parent links may cycle in bad data
			break
		}
	}
	return depth, total
}
