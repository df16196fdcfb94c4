// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package appview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// Client talks to a Bluesky AppView instance. GetLikers degrades
// gracefully: a failure is logged and yields an empty result. The other
// methods return their errors to the caller.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	u := fmt.Sprintf("%s/xrpc/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type profileView struct {
	Did            string `json:"did"`
	Handle         string `json:"handle"`
	FollowersCount int64  `json:"followersCount"`
}

// GetFollows pages through the follow list of the given account. A
// positive max stops after that many entries (Layer-2 expansion only
// wants the first page).
func (c *Client) GetFollows(ctx context.Context, did string, max int) ([]string, error) {
	var follows []string
	cursor := ""
	for {
		params := url.Values{"actor": {did}, "limit": {"100"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var page struct {
			Follows []profileView `json:"follows"`
			Cursor  string        `json:"cursor"`
		}
		if err := c.get(ctx, "app.bsky.graph.getFollows", params, &page); err != nil {
			return follows, err
		}

		for _, f := range page.Follows {
			follows = append(follows, f.Did)
			if max > 0 && len(follows) >= max {
				return follows, nil
			}
		}
		if page.Cursor == "" || len(page.Follows) == 0 {
			return follows, nil
		}
		cursor = page.Cursor
	}
}

// GetLikers returns DIDs of accounts that liked the post, capped at
// limit. Failures yield an empty list.
func (c *Client) GetLikers(ctx context.Context, postURI string, limit int) []string {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var page struct {
		Likes []struct {
			Actor profileView `json:"actor"`
		} `json:"likes"`
	}
	params := url.Values{"uri": {postURI}, "limit": {fmt.Sprint(limit)}}
	if err := c.get(ctx, "app.bsky.feed.getLikes", params, &page); err != nil {
		log.Warnf("appview getLikes %s: %v", postURI, err)
		return nil
	}

	dids := make([]string, 0, len(page.Likes))
	for _, l := range page.Likes {
		dids = append(dids, l.Actor.Did)
	}
	return dids
}

// FollowerCount resolves the total follower count of an account.
func (c *Client) FollowerCount(ctx context.Context, did string) (int64, error) {
	var profile profileView
	params := url.Values{"actor": {did}}
	if err := c.get(ctx, "app.bsky.actor.getProfile", params, &profile); err != nil {
		return 0, err
	}
	return profile.FollowersCount, nil
}

// PostView is the subset of a hydrated post the semantic pipeline
// needs for multimodal embedding.
type PostView struct {
	URI       string
	Text      string
	ImageURLs []string
	AltTexts  []string
}

// GetPosts hydrates full post views in chunks of 25 (the endpoint's
// maximum). Missing posts are skipped.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]*PostView, error) {
	var out []*PostView

	for start := 0; start < len(uris); start += 25 {
		end := start + 25
		if end > len(uris) {
			end = len(uris)
		}

		params := url.Values{}
		for _, uri := range uris[start:end] {
			params.Add("uris", uri)
		}

		var page struct {
			Posts []struct {
				URI    string `json:"uri"`
				Record struct {
					Text string `json:"text"`
				} `json:"record"`
				Embed *struct {
					Images []struct {
						Fullsize string `json:"fullsize"`
						Alt      string `json:"alt"`
					} `json:"images"`
				} `json:"embed"`
			} `json:"posts"`
		}
		if err := c.get(ctx, "app.bsky.feed.getPosts", params, &page); err != nil {
			return out, err
		}

		for _, p := range page.Posts {
			view := &PostView{URI: p.URI, Text: p.Record.Text}
			if p.Embed != nil {
				for _, img := range p.Embed.Images {
					view.ImageURLs = append(view.ImageURLs, img.Fullsize)
					view.AltTexts = append(view.AltTexts, img.Alt)
				}
			}
			out = append(out, view)
		}
	}
	return out, nil
}

// ResolveHandle resolves a handle to its DID via the identity
// directory.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp struct {
		Did string `json:"did"`
	}
	params := url.Values{"handle": {handle}}
	if err := c.get(ctx, "com.atproto.identity.resolveHandle", params, &resp); err != nil {
		return "", err
	}
	return resp.Did, nil
}
