// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

var postColumns = []string{
	"post.uri", "post.cid", "post.author", "post.indexed_at",
	"post.like_count", "post.reply_count", "post.repost_count",
	"post.reply_root", "post.reply_parent", "post.text",
	"post.has_image", "post.has_video", "post.has_external",
}

func (r *Repository) FindPost(uri string) (*schema.Post, error) {
	var p schema.Post
	err := r.DB.Get(&p, "SELECT * FROM post WHERE uri = ?", uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPosts loads posts for a URI set; misses are silently absent from
// the result (reply roots/parents are weak references).
func (r *Repository) FindPosts(uris []string) (map[string]*schema.Post, error) {
	out := make(map[string]*schema.Post, len(uris))
	err := chunked(uris, func(chunk []string) error {
		query, args, err := sqlx.In("SELECT * FROM post WHERE uri IN (?)", chunk)
		if err != nil {
			return err
		}
		var posts []schema.Post
		if err := r.DB.Select(&posts, query, args...); err != nil {
			return err
		}
		for i := range posts {
			out[posts[i].URI] = &posts[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PostsByRoot loads every indexed post of the given threads.
func (r *Repository) PostsByRoot(roots []string) (map[string][]*schema.Post, error) {
	out := make(map[string][]*schema.Post)
	err := chunked(roots, func(chunk []string) error {
		query, args, err := sqlx.In("SELECT * FROM post WHERE reply_root IN (?)", chunk)
		if err != nil {
			return err
		}
		var posts []schema.Post
		if err := r.DB.Select(&posts, query, args...); err != nil {
			return err
		}
		for i := range posts {
			out[posts[i].ReplyRoot] = append(out[posts[i].ReplyRoot], &posts[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// selectPosts runs a squirrel builder and scans the rows.
func (r *Repository) selectPosts(qb sq.SelectBuilder) ([]*schema.Post, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	var posts []schema.Post
	if err := r.DB.Select(&posts, query, args...); err != nil {
		return nil, err
	}

	out := make([]*schema.Post, len(posts))
	for i := range posts {
		out[i] = &posts[i]
	}
	return out, nil
}

// RecallByAuthors returns posts newer than sinceMs authored by the
// given set OR exceeding the like threshold, newest first.
func (r *Repository) RecallByAuthors(authors []string, sinceMs, untilMs, minLikes int64, limit int) ([]*schema.Post, error) {
	qb := sq.Select(postColumns...).From("post").
		Where(sq.GtOrEq{"post.indexed_at": sinceMs}).
		OrderBy("post.indexed_at DESC").
		Limit(uint64(limit))
	if untilMs > 0 {
		qb = qb.Where(sq.Lt{"post.indexed_at": untilMs})
	}

	pred := sq.Or{sq.Gt{"post.like_count": minLikes}}
	if len(authors) > 0 {
		pred = append(pred, sq.Eq{"post.author": authors})
	}
	qb = qb.Where(pred)

	return r.selectPosts(qb)
}

// RecallByAuthorsOnly returns recent posts from the author set alone
// (the "bubble" bucket).
func (r *Repository) RecallByAuthorsOnly(authors []string, sinceMs int64, limit int) ([]*schema.Post, error) {
	if len(authors) == 0 {
		return nil, nil
	}
	qb := sq.Select(postColumns...).From("post").
		Where(sq.GtOrEq{"post.indexed_at": sinceMs}).
		Where(sq.Eq{"post.author": authors}).
		OrderBy("post.indexed_at DESC").
		Limit(uint64(limit))
	return r.selectPosts(qb)
}

// RecallGlobal returns engaged posts regardless of authorship (the
// "global gems" bucket).
func (r *Repository) RecallGlobal(sinceMs, minLikes int64, limit int) ([]*schema.Post, error) {
	qb := sq.Select(postColumns...).From("post").
		Where(sq.GtOrEq{"post.indexed_at": sinceMs}).
		Where(sq.Gt{"post.like_count": minLikes}).
		OrderBy("post.like_count DESC").
		Limit(uint64(limit))
	return r.selectPosts(qb)
}

// RandomPosts samples the background corpus for the keyword job.
func (r *Repository) RandomPosts(n int) ([]*schema.Post, error) {
	qb := sq.Select(postColumns...).From("post").
		Where(sq.NotEq{"post.text": ""}).
		OrderBy("RANDOM()").
		Limit(uint64(n))
	return r.selectPosts(qb)
}

// DeleteStalePosts removes posts older than cutoffMs with zero
// engagement whose author nobody tracked follows. Returns rows removed.
func (r *Repository) DeleteStalePosts(cutoffMs int64) (int64, error) {
	var removed int64
	err := retryBusy(func() error {
		res, err := r.DB.Exec(
			`DELETE FROM post
			 WHERE indexed_at < ?
			   AND like_count = 0 AND reply_count = 0 AND repost_count = 0
			   AND author NOT IN (SELECT DISTINCT followee FROM graph_follow)`, cutoffMs)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}
