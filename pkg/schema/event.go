// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Jetstream collections this service subscribes to.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
)

// JetstreamEvent is the raw upstream frame.
type JetstreamEvent struct {
	Did    string `json:"did"`
	TimeUs int64  `json:"time_us"`
	Kind   string `json:"kind"` // "commit", "identity", "account"
	Commit *struct {
		Rev        string          `json:"rev"`
		Operation  string          `json:"operation"` // "create", "update", "delete"
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record,omitempty"`
		CID        string          `json:"cid"`
	} `json:"commit,omitempty"`
}

// Op is the tagged variant an event parses into. The record payload is
// untyped JSON upstream; it is decoded exactly once, here.
type Op interface{ isOp() }

type CreatePost struct {
	URI         string
	CID         string
	Author      string
	Text        string
	HasImage    bool
	HasVideo    bool
	HasExternal bool
	TimeUs      int64
}

type CreateReply struct {
	CreatePost
	ReplyRoot   string
	ReplyParent string
}

type DeletePost struct {
	URI    string
	TimeUs int64
}

type CreateLike struct {
	Actor      string
	SubjectURI string
	URI        string
	TimeUs     int64
}

type CreateRepost struct {
	Actor      string
	SubjectURI string
	URI        string
	TimeUs     int64
}

func (CreatePost) isOp()   {}
func (CreateReply) isOp()  {}
func (DeletePost) isOp()   {}
func (CreateLike) isOp()   {}
func (CreateRepost) isOp() {}

type postRecord struct {
	Text  string `json:"text"`
	Reply *struct {
		Root   struct{ URI string `json:"uri"` } `json:"root"`
		Parent struct{ URI string `json:"uri"` } `json:"parent"`
	} `json:"reply,omitempty"`
	Embed *struct {
		Type  string `json:"$type"`
		Media *struct {
			Type string `json:"$type"`
		} `json:"media,omitempty"`
	} `json:"embed,omitempty"`
}

type subjectRecord struct {
	Subject struct {
		URI string `json:"uri"`
	} `json:"subject"`
}

// ParseOp maps a Jetstream commit event onto its variant. Events that
// are not commits, or carry collections outside the subscription,
// return (nil, nil). Text is sanitized: embedded NULs are stripped.
func ParseOp(ev *JetstreamEvent) (Op, error) {
	if ev.Kind != "commit" || ev.Commit == nil {
		return nil, nil
	}

	c := ev.Commit
	uri := fmt.Sprintf("at://%s/%s/%s", ev.Did, c.Collection, c.RKey)

	if c.Operation == "delete" {
		if c.Collection == CollectionPost {
			return DeletePost{URI: uri, TimeUs: ev.TimeUs}, nil
		}
		return nil, nil
	}
	if c.Operation != "create" {
		return nil, nil
	}

	switch c.Collection {
	case CollectionPost:
		var rec postRecord
		if err := json.Unmarshal(c.Record, &rec); err != nil {
			return nil, fmt.Errorf("malformed post record %s: %w", uri, err)
		}

		cp := CreatePost{
			URI:    uri,
			CID:    c.CID,
			Author: ev.Did,
			Text:   strings.ReplaceAll(rec.Text, "\x00", ""),
			TimeUs: ev.TimeUs,
		}
		if rec.Embed != nil {
			embedType := rec.Embed.Type
			if rec.Embed.Media != nil {
				embedType = rec.Embed.Media.Type
			}
			cp.HasImage = strings.Contains(embedType, "embed.images")
			cp.HasVideo = strings.Contains(embedType, "embed.video")
			cp.HasExternal = strings.Contains(embedType, "embed.external")
		}

		if rec.Reply != nil && rec.Reply.Parent.URI != "" {
			return CreateReply{
				CreatePost:  cp,
				ReplyRoot:   rec.Reply.Root.URI,
				ReplyParent: rec.Reply.Parent.URI,
			}, nil
		}
		return cp, nil

	case CollectionLike:
		var rec subjectRecord
		if err := json.Unmarshal(c.Record, &rec); err != nil {
			return nil, fmt.Errorf("malformed like record %s: %w", uri, err)
		}
		if rec.Subject.URI == "" {
			return nil, fmt.Errorf("like %s without subject", uri)
		}
		return CreateLike{Actor: ev.Did, SubjectURI: rec.Subject.URI, URI: uri, TimeUs: ev.TimeUs}, nil

	case CollectionRepost:
		var rec subjectRecord
		if err := json.Unmarshal(c.Record, &rec); err != nil {
			return nil, fmt.Errorf("malformed repost record %s: %w", uri, err)
		}
		if rec.Subject.URI == "" {
			return nil, fmt.Errorf("repost %s without subject", uri)
		}
		return CreateRepost{Actor: ev.Did, SubjectURI: rec.Subject.URI, URI: uri, TimeUs: ev.TimeUs}, nil
	}

	return nil, nil
}
