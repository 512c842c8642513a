package core

import (
	"sockwrap/config"
	"sockwrap/internal/metrics"
	"sockwrap/internal/transport"
	"sockwrap/tunnel"
	"sockwrap/util"
)

// Build constructs the Mode for cfg.  TLS material is loaded here so
// that unreadable or malformed files are reported before any network
// activity, including under --dry-run.  TLS options that only apply to
// the secure path are warned about, not rejected, when no key is set.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if cfg.IgnoredTLS() {
		logger.Warn("CA and servername are ignored without a private key (--key)")
	}
	if cfg.TLS.Secure() {
		if _, err := transport.NewTLSConfig(cfg.TLS, cfg.Host); err != nil {
			return nil, err
		}
	}

	return &ConnectMode{
		Config:  *cfg,
		Dialer:  buildDialer(cfg, logger, m),
		Logger:  logger,
		Metrics: m,
	}, nil
}

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger, m *metrics.Collector) transport.Dialer {
	if cfg.Tunnel.Enabled() {
		tun := tunnel.NewSSHTunnel(tunnel.SSHConfigFrom(cfg), logger.Named("ssh"))
		return tunnel.NewDialer(tun, logger, m)
	}
	return &transport.TCPDialer{
		Timeout:   cfg.ConnectTimeout,
		LocalPort: cfg.LocalPort,
	}
}
