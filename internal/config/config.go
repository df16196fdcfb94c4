// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// ProgramConfig holds the global options. Defaults below; overridable
// by a JSON config file and the NEBULA_* environment variables.
type ProgramConfig struct {
	// Address where the http server will listen on (for example: 'localhost:8080').
	Addr string `json:"addr"`

	// Jetstream websocket endpoint of the upstream firehose.
	JetstreamURL string `json:"jetstream-url"`

	// Delay before re-establishing a dropped upstream connection.
	ReconnectDelay string `json:"reconnect-delay"`

	// For sqlite3 a filename. The only supported driver is sqlite3.
	DB string `json:"db"`

	// DID under which the feeds are published (did:plc or did:web).
	PublisherDid string `json:"publisher-did"`

	// Service DID served from /.well-known/did.json.
	ServiceDid string `json:"service-did"`

	// Hostname the service DID document points at.
	Hostname string `json:"hostname"`

	// Comma-separated DIDs the generator serves feeds for.
	Whitelist string `json:"whitelist"`

	// Record keys of the published feeds, e.g. "for-you".
	FeedRkeys []string `json:"feed-rkeys"`

	// External collaborators.
	AppViewURL     string `json:"appview-url"`
	VectorIndexURL string `json:"vector-index-url"`

	// CLI tools backing the semantic and keyword pipelines.
	EmbedderBin  string `json:"embedder-bin"`
	ModelPath    string `json:"model-path"`
	ClustererBin string `json:"clusterer-bin"`
	ExtractorBin string `json:"extractor-bin"`

	// Keywords never adjusted by explicit feedback.
	RestrictedKeywords []string `json:"restricted-keywords"`
}

var Keys ProgramConfig = ProgramConfig{
	Addr:           ":8080",
	JetstreamURL:   "wss://jetstream2.us-east.bsky.network/subscribe",
	ReconnectDelay: "5s",
	DB:             "./var/feed.db",
	Hostname:       "localhost",
	AppViewURL:     "https://public.api.bsky.app",
	VectorIndexURL: "http://localhost:6333",
	FeedRkeys:      []string{"for-you"},
}

// envOverrides maps environment variables onto config fields. Applied
// after the JSON file so deployments can stay file-less.
var envOverrides = map[string]*string{
	"NEBULA_ADDR":            &Keys.Addr,
	"NEBULA_JETSTREAM_URL":   &Keys.JetstreamURL,
	"NEBULA_RECONNECT_DELAY": &Keys.ReconnectDelay,
	"NEBULA_DB":              &Keys.DB,
	"NEBULA_PUBLISHER_DID":   &Keys.PublisherDid,
	"NEBULA_SERVICE_DID":     &Keys.ServiceDid,
	"NEBULA_HOSTNAME":        &Keys.Hostname,
	"NEBULA_WHITELIST":       &Keys.Whitelist,
	"NEBULA_APPVIEW_URL":     &Keys.AppViewURL,
	"NEBULA_VECTOR_URL":      &Keys.VectorIndexURL,
}

// Init loads the configuration from flagConfigFile (optional) and the
// environment. Must run before any other package reads Keys.
func Init(flagConfigFile string) {
	f, err := os.Open(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("open config file: %v", err)
		}
	} else {
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&Keys); err != nil {
			log.Fatalf("parse config file %s: %v", flagConfigFile, err)
		}
		f.Close()
	}

	for envvar, target := range envOverrides {
		if v, ok := os.LookupEnv(envvar); ok {
			*target = v
		}
	}

	if Keys.ServiceDid == "" {
		Keys.ServiceDid = "did:web:" + Keys.Hostname
	}
}

// WhitelistedDids returns the parsed whitelist.
func WhitelistedDids() []string {
	if Keys.Whitelist == "" {
		return nil
	}

	parts := strings.Split(Keys.Whitelist, ",")
	dids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			dids = append(dids, p)
		}
	}
	return dids
}

// ReconnectDelay returns the parsed upstream reconnect delay, falling
// back to five seconds on bad input.
func ReconnectDelay() time.Duration {
	d, err := time.ParseDuration(Keys.ReconnectDelay)
	if err != nil || d <= 0 {
		log.Warnf("invalid reconnect-delay %q, using 5s", Keys.ReconnectDelay)
		return 5 * time.Second
	}
	return d
}
