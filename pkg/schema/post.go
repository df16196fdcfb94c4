// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// Post is one indexed post. URI is the primary key; ReplyRoot and
// ReplyParent are weak references into the same table, a lookup on
// them may miss.
type Post struct {
	URI         string `json:"uri" db:"uri"`
	CID         string `json:"cid" db:"cid"`
	Author      string `json:"author" db:"author"`
	IndexedAt   int64  `json:"indexedAt" db:"indexed_at"` // unix ms
	LikeCount   int64  `json:"likeCount" db:"like_count"`
	ReplyCount  int64  `json:"replyCount" db:"reply_count"`
	RepostCount int64  `json:"repostCount" db:"repost_count"`
	ReplyRoot   string `json:"replyRoot,omitempty" db:"reply_root"`
	ReplyParent string `json:"replyParent,omitempty" db:"reply_parent"`
	Text        string `json:"text,omitempty" db:"text"`
	HasImage    bool   `json:"hasImage" db:"has_image"`
	HasVideo    bool   `json:"hasVideo" db:"has_video"`
	HasExternal bool   `json:"hasExternal" db:"has_external"`
}

// IsReply reports whether the post is part of a thread.
func (p *Post) IsReply() bool {
	return p.ReplyParent != "" || p.ReplyRoot != ""
}

// Engagement is the combined interaction count used by the
// ghost/cold filters.
func (p *Post) Engagement() int64 {
	return p.LikeCount + p.RepostCount + p.ReplyCount
}
