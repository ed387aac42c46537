package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/config"
	"kitchen-voice/internal/domain"
)

func TestSetupLogger_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kitchen.log")
	var stdout bytes.Buffer

	logger, closer := setupLogger(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}, &stdout)
	logger.Debug("wake word detected", "backend", "keyword")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), `"msg":"wake word detected"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"backend":"keyword"`)
}

func TestSetupLogger_Level(t *testing.T) {
	var out bytes.Buffer
	logger, _ := setupLogger(config.LogConfig{Level: "warn"}, &out)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestStrategies(t *testing.T) {
	logger, _ := setupLogger(config.LogConfig{}, &bytes.Buffer{})

	none := newStrategies(config.NLPConfig{Provider: "none"}, logger)
	assert.Nil(t, none.For("key"))

	claude := newStrategies(config.NLPConfig{Provider: "anthropic", Timeout: "1s"}, logger)
	assert.Nil(t, claude.For(""))
	first := claude.For("sk-a")
	require.NotNil(t, first)
	assert.Equal(t, "anthropic", first.Name())
	assert.Same(t, first, claude.For("sk-a"))
	assert.NotSame(t, first, claude.For("sk-b"))
	assert.NoError(t, claude.Close())

	endpoint := newStrategies(config.NLPConfig{Provider: "endpoint", Endpoint: "http://nlp.local/parse", Timeout: "1s"}, logger)
	st := endpoint.For("")
	require.NotNil(t, st)
	assert.Equal(t, "endpoint", st.Name())
}

func TestStrategies_EvictsLeastRecentlyUsedKey(t *testing.T) {
	logger, _ := setupLogger(config.LogConfig{}, &bytes.Buffer{})
	cloud := newStrategies(config.NLPConfig{Provider: "anthropic", Timeout: "1s"}, logger)
	defer cloud.Close()

	first := cloud.For("junk-0")
	require.NotNil(t, first)
	for i := 1; i < maxCachedStrategies; i++ {
		require.NotNil(t, cloud.For(fmt.Sprintf("junk-%d", i)))
	}
	assert.Equal(t, maxCachedStrategies, cloud.Len())

	legit := cloud.For("legit-key")
	require.NotNil(t, legit)
	assert.Same(t, legit, cloud.For("legit-key"))
	assert.Equal(t, maxCachedStrategies, cloud.Len())
	assert.NotSame(t, first, cloud.For("junk-0"), "oldest key was evicted")
}

func TestStrategies_CloseReleasesEvictedClients(t *testing.T) {
	logger, _ := setupLogger(config.LogConfig{}, &bytes.Buffer{})
	cloud := newStrategies(config.NLPConfig{Provider: "gemini"}, logger)

	for i := 0; i <= maxCachedStrategies; i++ {
		require.NotNil(t, cloud.For(fmt.Sprintf("key-%d", i)))
	}
	require.NoError(t, cloud.Close())
	assert.Zero(t, cloud.Len())
}

func TestParseCommand(t *testing.T) {
	orders := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(orders, []byte(`[{"id":"a","status":"preparing"}]`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"parse", "--orders", orders, "what", "can", "I", "say"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		parseOrdersFile = ""
	})

	require.NoError(t, rootCmd.Execute())

	var res domain.CommandResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, domain.ActionHelp, res.Action)
	assert.Equal(t, "what can I say", res.OriginalText)
}
