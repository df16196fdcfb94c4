// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitEvent(t *testing.T, did, op, collection, rkey, record string) *JetstreamEvent {
	t.Helper()

	raw := `{
		"did": "` + did + `",
		"time_us": 1700000000000000,
		"kind": "commit",
		"commit": {
			"operation": "` + op + `",
			"collection": "` + collection + `",
			"rkey": "` + rkey + `",
			"cid": "bafyexample",
			"record": ` + record + `
		}
	}`

	var ev JetstreamEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return &ev
}

func TestParseOpCreatePost(t *testing.T) {
	ev := commitEvent(t, "did:plc:alice", "create", CollectionPost, "3abc",
		`{"text": "hello world", "createdAt": "2024-01-01T00:00:00Z"}`)

	op, err := ParseOp(ev)
	require.NoError(t, err)

	cp, ok := op.(CreatePost)
	require.True(t, ok, "expected CreatePost, got %T", op)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", cp.URI)
	assert.Equal(t, "did:plc:alice", cp.Author)
	assert.Equal(t, "hello world", cp.Text)
	assert.False(t, cp.HasImage)
}

func TestParseOpStripsNulBytes(t *testing.T) {
	ev := commitEvent(t, "did:plc:alice", "create", CollectionPost, "3abc",
		`{"text": "he\u0000llo"}`)

	op, err := ParseOp(ev)
	require.NoError(t, err)
	assert.Equal(t, "hello", op.(CreatePost).Text)
}

func TestParseOpReply(t *testing.T) {
	ev := commitEvent(t, "did:plc:bob", "create", CollectionPost, "3def",
		`{"text": "agreed!", "reply": {
			"root": {"uri": "at://did:plc:alice/app.bsky.feed.post/3abc"},
			"parent": {"uri": "at://did:plc:alice/app.bsky.feed.post/3abc"}
		}}`)

	op, err := ParseOp(ev)
	require.NoError(t, err)

	reply, ok := op.(CreateReply)
	require.True(t, ok, "expected CreateReply, got %T", op)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", reply.ReplyRoot)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", reply.ReplyParent)
	assert.Equal(t, "did:plc:bob", reply.Author)
}

func TestParseOpEmbedFlags(t *testing.T) {
	ev := commitEvent(t, "did:plc:alice", "create", CollectionPost, "3img",
		`{"text": "look", "embed": {"$type": "app.bsky.embed.images", "images": []}}`)

	op, err := ParseOp(ev)
	require.NoError(t, err)
	assert.True(t, op.(CreatePost).HasImage)

	ev = commitEvent(t, "did:plc:alice", "create", CollectionPost, "3ext",
		`{"text": "link", "embed": {"$type": "app.bsky.embed.external", "external": {}}}`)
	op, err = ParseOp(ev)
	require.NoError(t, err)
	assert.True(t, op.(CreatePost).HasExternal)
}

func TestParseOpLikeAndRepost(t *testing.T) {
	ev := commitEvent(t, "did:plc:bob", "create", CollectionLike, "3l",
		`{"subject": {"uri": "at://did:plc:alice/app.bsky.feed.post/3abc", "cid": "bafy"}}`)

	op, err := ParseOp(ev)
	require.NoError(t, err)
	like := op.(CreateLike)
	assert.Equal(t, "did:plc:bob", like.Actor)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", like.SubjectURI)

	ev = commitEvent(t, "did:plc:bob", "create", CollectionRepost, "3r",
		`{"subject": {"uri": "at://did:plc:alice/app.bsky.feed.post/3abc", "cid": "bafy"}}`)
	op, err = ParseOp(ev)
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", op.(CreateRepost).SubjectURI)
}

func TestParseOpDelete(t *testing.T) {
	ev := commitEvent(t, "did:plc:alice", "delete", CollectionPost, "3abc", `null`)

	op, err := ParseOp(ev)
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3abc", op.(DeletePost).URI)

	// Deleting a like is not a post deletion.
	ev = commitEvent(t, "did:plc:alice", "delete", CollectionLike, "3l", `null`)
	op, err = ParseOp(ev)
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestParseOpIgnoresNonCommit(t *testing.T) {
	op, err := ParseOp(&JetstreamEvent{Kind: "identity", Did: "did:plc:alice"})
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestParseOpMalformedRecord(t *testing.T) {
	ev := commitEvent(t, "did:plc:bob", "create", CollectionLike, "3l", `{"subject": {}}`)
	_, err := ParseOp(ev)
	assert.Error(t, err)
}
