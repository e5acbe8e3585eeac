package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single value", input: "key-one", expected: []string{"key-one"}},
		{name: "multiple values", input: "key-one,key-two", expected: []string{"key-one", "key-two"}},
		{name: "values with spaces around comma", input: "key-one, key-two", expected: []string{"key-one", "key-two"}},
		{name: "values with leading/trailing spaces", input: "  key-one  ,  key-two  ", expected: []string{"key-one", "key-two"}},
		{name: "trailing comma", input: "key-one,key-two,", expected: []string{"key-one", "key-two"}},
		{name: "leading comma", input: ",key-one,key-two", expected: []string{"key-one", "key-two"}},
		{name: "multiple consecutive commas", input: "key-one,,key-two", expected: []string{"key-one", "key-two"}},
		{name: "only commas and spaces", input: ",  , , ", expected: nil},
		{name: "single value with surrounding whitespace", input: "  key-one  ", expected: []string{"key-one"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseCommaSeparatedList(tt.input))
		})
	}
}

func TestLoadServeEnvVars_EnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("AZURE_CLIENT_ID", "env-client")
	t.Setenv("MAILGRAPH_API_KEYS", "k1, k2")
	t.Setenv("STORAGE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("METRICS_ENABLED", "false")

	var cfg ServeConfig
	cmd := newServeCmdWithConfig(&cfg)
	require.NoError(t, cmd.ParseFlags(nil))
	loadServeEnvVars(cmd, &cfg)

	assert.Equal(t, "env-client", cfg.ClientID)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.True(t, cfg.TrustProxy)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadServeEnvVars_FlagsWin(t *testing.T) {
	t.Setenv("AZURE_CLIENT_ID", "env-client")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	var cfg ServeConfig
	cmd := newServeCmdWithConfig(&cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--client-id", "flag-client", "--redis-db", "7"}))
	loadServeEnvVars(cmd, &cfg)

	assert.Equal(t, "flag-client", cfg.ClientID)
	assert.Equal(t, 7, cfg.Storage.Redis.DB)
	assert.Equal(t, 20, cfg.RateLimitBurst, "invalid env values are ignored")
}

func TestServeConfigValidate(t *testing.T) {
	valid := func() ServeConfig {
		return ServeConfig{Transport: transportStreamableHTTP, HTTPAddr: ":8080", ClientID: "c", RateLimitRPS: 1}
	}

	cfg := valid()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)

	cfg = valid()
	cfg.BaseURL = "https://mail.example.com/"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "https://mail.example.com", cfg.BaseURL)

	cfg = valid()
	cfg.Transport = "sse"
	assert.ErrorContains(t, cfg.validate(), "unsupported transport")

	cfg = valid()
	cfg.ClientID = ""
	assert.ErrorContains(t, cfg.validate(), "client id")

	cfg = valid()
	cfg.RateLimitRPS = 0
	assert.Error(t, cfg.validate())
}

func TestStorageConfig_TokenStoreConfig(t *testing.T) {
	_, err := StorageConfig{Type: "memory", EncryptionKey: "not base64!"}.tokenStoreConfig(nil)
	assert.Error(t, err)

	// 32 zero bytes.
	out, err := StorageConfig{Type: " Redis ", EncryptionKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="}.tokenStoreConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", out.Backend)
	assert.Len(t, out.EncryptionKey, 32)
}
