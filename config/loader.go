package config

// loader.go - configuration loading from YAML files and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Config file ──────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys missing
// from the file keep their current value, so callers should start from
// [Default].  Unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SOCKWRAP_ prefix.  Boolean values
// accept "1", "true", "yes" and "0", "false", "no" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it BEFORE applying CLI
// flags so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SOCKWRAP_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("SOCKWRAP_PORT"); v > 0 {
		cfg.Port = v
	}
	if v, ok := envBool("SOCKWRAP_NO_DELAY"); ok {
		cfg.NoDelay = v
	}
	if v := envDuration("SOCKWRAP_TIMEOUT"); v > 0 {
		cfg.Timeout = v
	}
	if v := envDuration("SOCKWRAP_CONNECT_TIMEOUT"); v > 0 {
		cfg.ConnectTimeout = v
	}
	if v := envDuration("SOCKWRAP_CLOSE_TIMEOUT"); v > 0 {
		cfg.CloseTimeout = v
	}
	if v := envInt("SOCKWRAP_RETRY"); v > 0 {
		cfg.Retry = v
	}

	// TLS
	if v := os.Getenv("SOCKWRAP_KEY"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("SOCKWRAP_CERT"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("SOCKWRAP_CA"); v != "" {
		cfg.TLS.CAFile = v
	}
	if v := os.Getenv("SOCKWRAP_SERVERNAME"); v != "" {
		cfg.TLS.ServerName = v
	}
	if v, ok := envBool("SOCKWRAP_REJECT_UNAUTHORIZED"); ok {
		cfg.TLS.RejectUnauthorized = v
	}

	// SSH tunnel
	if v := os.Getenv("SOCKWRAP_TUNNEL"); v != "" {
		cfg.Tunnel.Spec = v
	}
	if v := os.Getenv("SOCKWRAP_SSH_KEY"); v != "" {
		cfg.Tunnel.KeyPath = v
	}
	if v, ok := envBool("SOCKWRAP_SSH_AGENT"); ok {
		cfg.Tunnel.UseAgent = v
	}
	if v := os.Getenv("SOCKWRAP_KNOWN_HOSTS"); v != "" {
		cfg.Tunnel.KnownHostsPath = v
	}

	// Output
	if v := envInt("SOCKWRAP_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// envDuration accepts Go durations ("250ms", "2s") or bare integers,
// which are read as milliseconds.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
