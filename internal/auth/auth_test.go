// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceDid = "did:web:feeds.example.com"

func signedToken(t *testing.T, iss, aud string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{"iss": iss, "aud": aud, "exp": exp.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func request(token string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestRequesterDid(t *testing.T) {
	a := New(serviceDid, []string{"did:plc:alice"})

	token := signedToken(t, "did:plc:alice", serviceDid, time.Now().Add(time.Minute))
	did, err := a.RequesterDid(request(token))
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)
}

func TestMissingToken(t *testing.T) {
	a := New(serviceDid, nil)
	_, err := a.RequesterDid(request(""))
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestMalformedToken(t *testing.T) {
	a := New(serviceDid, nil)
	_, err := a.RequesterDid(request("not-a-jwt"))
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestAudienceMismatch(t *testing.T) {
	a := New(serviceDid, nil)
	token := signedToken(t, "did:plc:alice", "did:web:other.example.com", time.Now().Add(time.Minute))
	_, err := a.RequesterDid(request(token))
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestExpiredToken(t *testing.T) {
	a := New(serviceDid, nil)
	token := signedToken(t, "did:plc:alice", serviceDid, time.Now().Add(-time.Minute))
	_, err := a.RequesterDid(request(token))
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestWhitelistGate(t *testing.T) {
	a := New(serviceDid, []string{"did:plc:alice"})

	assert.NoError(t, a.CheckWhitelisted("did:plc:alice"))
	assert.ErrorIs(t, a.CheckWhitelisted("did:plc:mallory"), ErrRestricted)
}
