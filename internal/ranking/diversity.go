// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

// diversify interleaves the score-ordered pool so the same author
// never dominates a stretch: the next slot takes the highest-scoring
// candidate whose author is neither among the two most recent nor
// already placed. Every third slot the ban relaxes back to just the two
// most recent (earlier authors become eligible again). The interleave
// stops at the first slot no remaining candidate may fill, and the
// candidates still unplaced are dropped — unless that would cut the
// pool by more than half, in which case the pre-diversity order stands.
func diversify(ordered []*Candidate) []*Candidate {
	if len(ordered) <= 2 {
		return ordered
	}

	remaining := make([]*Candidate, len(ordered))
	copy(remaining, ordered)

	out := make([]*Candidate, 0, len(ordered))
	usedAuthors := make(map[string]bool)
	var last2 [2]string

	for len(remaining) > 0 {
		relaxed := len(out)%3 == 0 && len(out) > 0

		pick := -1
		for i, cand := range remaining {
			author := cand.Post.Author
			if author == last2[0] || author == last2[1] {
				continue
			}
			if !relaxed && usedAuthors[author] {
				continue
			}
			pick = i
			break
		}

		if pick < 0 {
			// Nothing placeable under the current ban; the tail is cut.
			break
		}

		cand := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		out = append(out, cand)
		usedAuthors[cand.Post.Author] = true
		last2[1] = last2[0]
		last2[0] = cand.Post.Author
	}

	if len(out)*2 < len(ordered) {
		return ordered
	}
	return out
}
