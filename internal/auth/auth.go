// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auth extracts and gates the requesting DID. Feed requests
// carry a service JWT whose issuer is the requester; cryptographic key
// resolution is the identity collaborator's job, this layer validates
// the claim shape, audience and expiry, and enforces the whitelist.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken    = errors.New("missing authorization token")
	ErrBadToken   = errors.New("malformed authorization token")
	ErrRestricted = errors.New("account restricted")
)

type Authenticator struct {
	serviceDid string
	whitelist  map[string]bool
	parser     *jwt.Parser
}

func New(serviceDid string, whitelist []string) *Authenticator {
	set := make(map[string]bool, len(whitelist))
	for _, did := range whitelist {
		set[did] = true
	}
	return &Authenticator{
		serviceDid: serviceDid,
		whitelist:  set,
		parser:     jwt.NewParser(),
	}
}

// RequesterDid returns the authenticated requester. The caller decides
// whether a whitelist miss is fatal.
func (a *Authenticator) RequesterDid(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", ErrBadToken
	}

	claims := jwt.MapClaims{}
	// The token is signed with the requester's atproto signing key;
	// key material resolves through the external identity service, so
	// claim validation happens here and signature checks there.
	if _, _, err := a.parser.ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return "", ErrBadToken
	}

	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		match := false
		for _, a2 := range aud {
			if a2 == a.serviceDid {
				match = true
				break
			}
		}
		if !match {
			return "", fmt.Errorf("%w: audience mismatch", ErrBadToken)
		}
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if time.Now().After(exp.Time) {
			return "", fmt.Errorf("%w: token expired", ErrBadToken)
		}
	}

	return iss, nil
}

// CheckWhitelisted gates feed serving to the configured users.
func (a *Authenticator) CheckWhitelisted(did string) error {
	if !a.whitelist[did] {
		return ErrRestricted
	}
	return nil
}

// Whitelist returns the configured DIDs.
func (a *Authenticator) Whitelist() []string {
	out := make([]string, 0, len(a.whitelist))
	for did := range a.whitelist {
		out = append(out, did)
	}
	return out
}
