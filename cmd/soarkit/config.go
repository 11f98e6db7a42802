package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all soarkit configuration.
// Priority: env vars > settings.json > defaults. A .env file in the working
// directory is loaded into the environment first.
type Config struct {
	DBPath         string   `json:"db_path"`
	LogLevel       string   `json:"log_level"`
	MetricsAddr    string   `json:"metrics_addr"`
	VaultKey       string   `json:"vault_key,omitempty"`
	VaultSalt      string   `json:"vault_salt"`
	PlaybookPrefix string   `json:"playbook_prefix"`
	TokenTTL       string   `json:"token_ttl"`
	DeniedEnv      []string `json:"denied_env,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(soarkitDir(), "soarkit.db"),
		LogLevel:    "info",
		MetricsAddr: ":9464",
		VaultSalt:   "soarkit",
		TokenTTL:    "24h",
	}
}

func soarkitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".soarkit"
	}
	return filepath.Join(home, ".soarkit")
}

func settingsPath() string {
	return filepath.Join(soarkitDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SOARKIT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SOARKIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SOARKIT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SOARKIT_VAULT_KEY"); v != "" {
		cfg.VaultKey = v
	}
	if v := os.Getenv("SOARKIT_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("SOARKIT_PLAYBOOK_PREFIX"); v != "" {
		cfg.PlaybookPrefix = v
	}
	if v := os.Getenv("SOARKIT_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if v := os.Getenv("SOARKIT_DENIED_ENV"); v != "" {
		cfg.DeniedEnv = splitList(v)
	}

	return cfg
}

// tokenTTL parses TokenTTL; an empty or invalid value means no expiry.
func (c Config) tokenTTL() time.Duration {
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// dbURI returns DBPath as a libsql file URI.
func (c Config) dbURI() string {
	if strings.HasPrefix(c.DBPath, "file:") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
