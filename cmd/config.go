package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

// StorageConfig holds token store settings shared by serve and sweep.
type StorageConfig struct {
	// Type is the backend: memory, postgres or redis (default: memory)
	Type string

	PostgresDSN string
	Redis       tokenstore.RedisConfig

	// EncryptionKey is a base64 encoded 32 byte AES key. Optional.
	EncryptionKey string
}

func addStorageFlags(cmd *cobra.Command, cfg *StorageConfig) {
	cmd.Flags().StringVar(&cfg.Type, "storage-type", instrumentation.BackendMemory, "Token store backend: memory, postgres or redis. Can also use STORAGE_TYPE env var.")
	cmd.Flags().StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "Postgres connection string. Can also use POSTGRES_DSN env var.")
	cmd.Flags().StringVar(&cfg.Redis.Addr, "redis-addr", "", "Redis address (host:port). Can also use REDIS_ADDR env var.")
	cmd.Flags().StringVar(&cfg.Redis.Password, "redis-password", "", "Redis password. Can also use REDIS_PASSWORD env var.")
	cmd.Flags().IntVar(&cfg.Redis.DB, "redis-db", 0, "Redis database number. Can also use REDIS_DB env var.")
	cmd.Flags().StringVar(&cfg.Redis.Prefix, "redis-key-prefix", "mailgraph:", "Prefix for all Redis keys. Can also use REDIS_KEY_PREFIX env var.")
	cmd.Flags().StringVar(&cfg.EncryptionKey, "encryption-key", "", "AES-256 key for tokens at rest (32 bytes, base64). Generate with: openssl rand -base64 32. Can also use TOKEN_ENCRYPTION_KEY env var.")
}

func loadStorageEnvVars(cmd *cobra.Command, cfg *StorageConfig) {
	envString(cmd, "storage-type", "STORAGE_TYPE", &cfg.Type)
	envString(cmd, "postgres-dsn", "POSTGRES_DSN", &cfg.PostgresDSN)
	envString(cmd, "redis-addr", "REDIS_ADDR", &cfg.Redis.Addr)
	envString(cmd, "redis-password", "REDIS_PASSWORD", &cfg.Redis.Password)
	envInt(cmd, "redis-db", "REDIS_DB", &cfg.Redis.DB)
	envString(cmd, "redis-key-prefix", "REDIS_KEY_PREFIX", &cfg.Redis.Prefix)
	envString(cmd, "encryption-key", "TOKEN_ENCRYPTION_KEY", &cfg.EncryptionKey)
}

// tokenStoreConfig validates cfg and converts it for tokenstore.Open.
func (cfg StorageConfig) tokenStoreConfig(metrics *instrumentation.Metrics) (tokenstore.Config, error) {
	out := tokenstore.Config{
		Backend:     strings.ToLower(strings.TrimSpace(cfg.Type)),
		PostgresDSN: cfg.PostgresDSN,
		Redis:       cfg.Redis,
		Metrics:     metrics,
	}
	if cfg.EncryptionKey != "" {
		key, err := tokenstore.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			return out, fmt.Errorf("invalid encryption key: %w", err)
		}
		out.EncryptionKey = key
	}
	if out.Backend != "" && out.Backend != instrumentation.BackendMemory && out.EncryptionKey == nil {
		slog.Warn("tokens will be stored unencrypted; set --encryption-key for production",
			slog.String("backend", out.Backend))
	}
	return out, nil
}

// The env helpers apply a variable only when the flag was not set on the
// command line, so flags always win.

func envString(cmd *cobra.Command, flag, env string, dst *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func envList(cmd *cobra.Command, flag, env string, dst *[]string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = parseCommaSeparatedList(v)
	}
}

func envInt(cmd *cobra.Command, flag, env string, dst *int) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid integer env var", slog.String("env", env), slog.String("value", v))
			return
		}
		*dst = n
	}
}

func envFloat(cmd *cobra.Command, flag, env string, dst *float64) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("ignoring invalid number env var", slog.String("env", env), slog.String("value", v))
			return
		}
		*dst = f
	}
}

func envBool(cmd *cobra.Command, flag, env string, dst *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring invalid boolean env var (expected true/false)", slog.String("env", env), slog.String("value", v))
			return
		}
		*dst = b
	}
}

func envDuration(cmd *cobra.Command, flag, env string, dst *time.Duration) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration env var", slog.String("env", env), slog.String("value", v))
			return
		}
		*dst = d
	}
}

// parseCommaSeparatedList splits s on commas, trimming blanks. It returns
// nil when nothing remains.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
