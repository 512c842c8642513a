// Package config defines the runtime configuration for sockwrap and
// provides helpers for loading it from files and the environment.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "sockwrap/internal/errors"
	"sockwrap/util"
)

// Tracer is an optional sink for debug trace lines.  *util.Logger
// satisfies it.
type Tracer interface {
	Debug(format string, args ...interface{})
}

// Config holds every tuneable for a single connection.  It is treated
// as immutable once a connection attempt starts.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	LocalPort      int           `yaml:"local_port"`
	NoDelay        bool          `yaml:"no_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	HighWaterMark  int           `yaml:"high_water_mark"`

	// ── TLS ──────────────────────────────────────────────────────────
	TLS Credentials `yaml:"tls"`

	// ── Reconnect (CLI only) ─────────────────────────────────────────
	Retry         int           `yaml:"retry"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// ── SSH jump host ────────────────────────────────────────────────
	Tunnel Tunnel `yaml:"tunnel"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int    `yaml:"verbose"`
	Trace   Tracer `yaml:"-"`
}

// Credentials is the TLS material for a secured connection.  PEM bytes
// take precedence over the matching file path.
type Credentials struct {
	Key  []byte `yaml:"-"`
	Cert []byte `yaml:"-"`
	CA   []byte `yaml:"-"`

	KeyFile  string `yaml:"key_file"`
	CertFile string `yaml:"cert_file"`
	CAFile   string `yaml:"ca_file"`

	ServerName         string `yaml:"servername"`
	RequestCert        bool   `yaml:"request_cert"`
	RejectUnauthorized bool   `yaml:"reject_unauthorized"`
}

// Secure reports whether a private key is present, which selects the
// TLS path over plain TCP.
func (c Credentials) Secure() bool {
	return len(c.Key) > 0 || c.KeyFile != ""
}

// Tunnel describes an optional SSH gateway the connection is routed
// through.
type Tunnel struct {
	Spec           string `yaml:"spec"`
	User           string `yaml:"user"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	KeyPath        string `yaml:"key"`
	Password       bool   `yaml:"password"`
	UseAgent       bool   `yaml:"agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`
}

// Enabled reports whether a jump host is configured.
func (t Tunnel) Enabled() bool { return t.Host != "" }

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		NoDelay:        DefaultNoDelay,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnTimeout,
		CloseTimeout:   DefaultCloseTimeout,
		HighWaterMark:  DefaultHighWaterMark,
		RetryMaxDelay:  DefaultMaxRetryDelay,
		TLS: Credentials{
			RejectUnauthorized: DefaultRejectUnauthorized,
		},
	}
}

// Address returns host:port for the configured peer.
func (c *Config) Address() string {
	return util.FormatAddr(c.Host, c.Port)
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses Tunnel.Spec (if set) into its parts.
func (c *Config) ApplyTunnelSpec() error {
	if c.Tunnel.Spec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.Tunnel.Spec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.Tunnel.Spec, Message: err.Error()}
	}
	c.Tunnel.User, c.Tunnel.Host, c.Tunnel.Port = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ncerr.ConfigError{
			Field:   "host",
			Message: "hostname is required",
			Hint:    "sockwrap [options] <host> <port>",
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
		}
	}
	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.ConnectTimeout < 0 {
		return &ncerr.ConfigError{Field: "connect-timeout", Value: c.ConnectTimeout, Message: "must not be negative"}
	}
	if c.CloseTimeout < 0 {
		return &ncerr.ConfigError{Field: "close-timeout", Value: c.CloseTimeout, Message: "must not be negative"}
	}
	if c.HighWaterMark < 0 {
		return &ncerr.ConfigError{Field: "high-water-mark", Value: c.HighWaterMark, Message: "must not be negative"}
	}
	if c.Retry < 0 {
		return &ncerr.ConfigError{Field: "retry", Value: c.Retry, Message: "must not be negative"}
	}

	hasKey := c.TLS.Secure()
	hasCert := len(c.TLS.Cert) > 0 || c.TLS.CertFile != ""
	if hasKey != hasCert {
		return &ncerr.ConfigError{
			Field:   "cert",
			Message: "key and certificate must be given together",
			Hint:    "pass both --key and --cert to enable TLS",
		}
	}
	return nil
}

// IgnoredTLS reports whether TLS options are set that have no effect
// because no private key selects the secure path.
func (c *Config) IgnoredTLS() bool {
	return !c.TLS.Secure() &&
		(len(c.TLS.CA) > 0 || c.TLS.CAFile != "" || c.TLS.ServerName != "")
}
