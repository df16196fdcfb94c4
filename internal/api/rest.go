// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nebula-feeds/nebula-backend/internal/auth"
	"github.com/nebula-feeds/nebula-backend/internal/fusion"
	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/taste"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// RestApi mounts the XRPC surface of the feed generator.
type RestApi struct {
	Fusion         *fusion.Fusion
	Authentication *auth.Authenticator
	Repository     *repository.Repository
	Taste          *taste.Engine

	PublisherDid string
	ServiceDid   string
	Hostname     string
	FeedRkeys    []string
}

func (api *RestApi) MountRoutes(r *mux.Router) {
	r.HandleFunc("/.well-known/did.json", api.getDidDocument).Methods(http.MethodGet)
	r.HandleFunc("/health", api.getHealth).Methods(http.MethodGet)

	x := r.PathPrefix("/xrpc").Subrouter()
	x.HandleFunc("/app.bsky.feed.getFeedSkeleton", api.getFeedSkeleton).Methods(http.MethodGet)
	x.HandleFunc("/app.bsky.feed.describeFeedGenerator", api.describeFeedGenerator).Methods(http.MethodGet)
	x.HandleFunc("/app.bsky.feed.sendInteractions", api.sendInteractions).Methods(http.MethodPost)
}

// xrpcError is the protocol error envelope. No stack traces leave the
// server.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		log.Warnf("api: encode response: %v", err)
	}
}

func writeError(rw http.ResponseWriter, status int, kind, message string) {
	writeJSON(rw, status, xrpcError{Error: kind, Message: message})
}

func (api *RestApi) feedURI(rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", api.PublisherDid, rkey)
}

func (api *RestApi) knownFeed(feedURI string) bool {
	for _, rkey := range api.FeedRkeys {
		if feedURI == api.feedURI(rkey) {
			return true
		}
	}
	return false
}

func (api *RestApi) getFeedSkeleton(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()

	feedURI := r.URL.Query().Get("feed")
	if !api.knownFeed(feedURI) {
		metrics.FeedRequestsTotal.WithLabelValues("unknown_feed").Inc()
		writeError(rw, http.StatusBadRequest, "UnsupportedAlgorithm", "unsupported algorithm")
		return
	}

	requester, err := api.Authentication.RequesterDid(r)
	if err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("unauthenticated").Inc()
		writeError(rw, http.StatusUnauthorized, "AuthenticationRequired", err.Error())
		return
	}
	if err := api.Authentication.CheckWhitelisted(requester); err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("restricted").Inc()
		writeError(rw, http.StatusForbidden, "AccountRestricted", "account restricted")
		return
	}

	limit := 50
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			writeError(rw, http.StatusBadRequest, "InvalidRequest", "invalid limit")
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	resp, err := api.Fusion.Serve(r.Context(), requester, limit, cursor)
	if err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("error").Inc()
		log.Errorf("api: serve feed for %s: %v", requester, err)
		writeError(rw, http.StatusInternalServerError, "InternalError", "feed generation failed")
		return
	}

	metrics.FeedRequestsTotal.WithLabelValues("ok").Inc()
	metrics.FeedRequestDuration.Observe(time.Since(start).Seconds())
	writeJSON(rw, http.StatusOK, resp)
}

func (api *RestApi) describeFeedGenerator(rw http.ResponseWriter, r *http.Request) {
	type feedRef struct {
		URI string `json:"uri"`
	}
	feeds := make([]feedRef, len(api.FeedRkeys))
	for i, rkey := range api.FeedRkeys {
		feeds[i] = feedRef{URI: api.feedURI(rkey)}
	}

	writeJSON(rw, http.StatusOK, map[string]interface{}{
		"did":   api.ServiceDid,
		"feeds": feeds,
	})
}

func (api *RestApi) getDidDocument(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]interface{}{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       api.ServiceDid,
		"service": []map[string]interface{}{{
			"id":              "#bsky_fg",
			"type":            "BskyFeedGenerator",
			"serviceEndpoint": "https://" + api.Hostname,
		}},
	})
}

func (api *RestApi) getHealth(rw http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	if err := api.Repository.DB.Ping(); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["db"] = err.Error()
	}

	if cursor, err := api.Repository.Cursor("jetstream"); err == nil && cursor > 0 {
		body["cursorAgeSeconds"] = (time.Now().UnixMicro() - cursor) / 1_000_000
	}

	writeJSON(rw, status, body)
}

// interactionEvent mirrors app.bsky.feed.sendInteractions entries.
type interactionEvent struct {
	Event string `json:"event"`
	Item  string `json:"item"`
}

func (api *RestApi) sendInteractions(rw http.ResponseWriter, r *http.Request) {
	requester, err := api.Authentication.RequesterDid(r)
	if err != nil {
		writeError(rw, http.StatusUnauthorized, "AuthenticationRequired", err.Error())
		return
	}
	if err := api.Authentication.CheckWhitelisted(requester); err != nil {
		writeError(rw, http.StatusForbidden, "AccountRestricted", "account restricted")
		return
	}

	var payload struct {
		Interactions []interactionEvent `json:"interactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(rw, http.StatusBadRequest, "InvalidRequest", "malformed interaction payload")
		return
	}

	for _, ev := range payload.Interactions {
		api.handleInteraction(r, requester, ev)
	}

	writeJSON(rw, http.StatusOK, map[string]interface{}{})
}

func (api *RestApi) handleInteraction(r *http.Request, requester string, ev interactionEvent) {
	const prefix = "app.bsky.feed.defs#"

	switch ev.Event {
	case prefix + "interactionSeen":
		if err := api.Repository.InsertSeen(requester, ev.Item, time.Now().UnixMilli()); err != nil {
			log.Warnf("api: seen log for %s: %v", requester, err)
		}
		if post, err := api.Repository.FindPost(ev.Item); err == nil {
			api.Taste.OnSeen(requester, post.Author)
		}

	case prefix + "interactionLike", prefix + "requestMore",
		prefix + "interactionDislike", prefix + "requestLess":
		post, err := api.Repository.FindPost(ev.Item)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				log.Warnf("api: feedback post lookup %s: %v", ev.Item, err)
			}
			return
		}

		more := ev.Event == prefix+"interactionLike" || ev.Event == prefix+"requestMore"
		strength := taste.StrengthWeak
		if ev.Event == prefix+"requestMore" || ev.Event == prefix+"requestLess" {
			strength = taste.StrengthStrong
		}
		api.Taste.ExplicitFeedback(r.Context(), requester, post, more, strength)

	default:
		// Shares, clickthroughs and the like are acknowledged but not
		// modeled.
		log.Debugf("api: ignoring interaction event %q", ev.Event)
	}
}
