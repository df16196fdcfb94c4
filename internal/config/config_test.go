// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFileAndEnvOverride(t *testing.T) {
	cfg := `{
		"addr": ":9090",
		"whitelist": "did:plc:a, did:plc:b",
		"publisher-did": "did:plc:pub"
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	t.Setenv("NEBULA_ADDR", ":7070")
	Init(path)

	assert.Equal(t, ":7070", Keys.Addr, "environment wins over the file")
	assert.Equal(t, "did:plc:pub", Keys.PublisherDid)
	assert.ElementsMatch(t, []string{"did:plc:a", "did:plc:b"}, WhitelistedDids())
}

func TestServiceDidDefaultsToWeb(t *testing.T) {
	Keys.ServiceDid = ""
	Keys.Hostname = "feeds.example.com"
	Init(filepath.Join(t.TempDir(), "missing.json"))

	assert.Equal(t, "did:web:feeds.example.com", Keys.ServiceDid)
}

func TestReconnectDelayFallback(t *testing.T) {
	Keys.ReconnectDelay = "250ms"
	assert.Equal(t, 250*time.Millisecond, ReconnectDelay())

	Keys.ReconnectDelay = "bogus"
	assert.Equal(t, 5*time.Second, ReconnectDelay())
}
