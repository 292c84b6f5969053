package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/config"
)

func TestLogWriters(t *testing.T) {
	var buf bytes.Buffer

	ops, diag := logWriters(false, &buf)
	assert.Same(t, &buf, ops)
	assert.Nil(t, diag)

	ops, diag = logWriters(true, &buf)
	assert.Same(t, &buf, ops)
	assert.Same(t, &buf, diag)
}

func TestRunConfigJSONOmitsDSN(t *testing.T) {
	dsn := "postgres://guide:secret@db/exitguide"
	listen := ":9090"
	cfg := config.EmptyGuideConfig()
	cfg.PostgresDSN = &dsn
	cfg.ListenAddr = &listen

	out := runConfigJSON(cfg)
	assert.NotContains(t, out, "secret")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, ":9090", decoded["listen_addr"])
	assert.NotContains(t, decoded, "postgres_dsn")
	assert.Equal(t, dsn, *cfg.PostgresDSN, "caller's config is untouched")
}
