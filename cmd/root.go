// Package cmd wires up the CLI flags and dispatches to the core.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"sockwrap/config"
	"sockwrap/internal/core"
	"sockwrap/internal/metrics"
	"sockwrap/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sockwrap/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// flagValues receives raw flag input.  Only flags the user actually set
// are applied, so file and environment values survive unset flags.
type flagValues struct {
	localPort      int
	noDelay        bool
	timeout        time.Duration
	connectTimeout time.Duration
	closeTimeout   time.Duration
	highWaterMark  int
	retry          int

	key, cert, ca string
	serverName    string
	requestCert   bool
	insecure      bool

	tunnel        string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string

	verbose int
}

// Execute parses args and runs a connection.
func Execute(ctx context.Context, args []string) error {
	var fv flagValues
	fs := flag.NewFlagSet("sockwrap", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.IntVarP(&fv.localPort, "port", "p", 0, "Local source port")
	fs.BoolVar(&fv.noDelay, "no-delay", config.DefaultNoDelay, "Disable Nagle's algorithm")
	fs.DurationVarP(&fv.timeout, "timeout", "w", config.DefaultTimeout, "Idle timeout (0 disables)")
	fs.DurationVar(&fv.connectTimeout, "connect-timeout", config.DefaultConnTimeout, "Dial and handshake timeout")
	fs.DurationVar(&fv.closeTimeout, "close-timeout", config.DefaultCloseTimeout, "Graceful close timeout")
	fs.IntVar(&fv.highWaterMark, "high-water-mark", config.DefaultHighWaterMark, "Buffered bytes before backpressure")
	fs.IntVar(&fv.retry, "retry", 0, "Reconnect attempts after a retryable failure")

	// ── TLS ──────────────────────────────────────────────────────
	fs.StringVar(&fv.key, "key", "", "Private key PEM file (enables TLS)")
	fs.StringVar(&fv.cert, "cert", "", "Certificate PEM file")
	fs.StringVar(&fv.ca, "ca", "", "CA bundle PEM file")
	fs.StringVar(&fv.serverName, "servername", "", "TLS server name (default: host)")
	fs.BoolVar(&fv.requestCert, "request-cert", false, "Request a peer certificate (no effect on clients)")
	fs.BoolVarP(&fv.insecure, "insecure", "k", false, "Skip peer certificate verification")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var configPath string
	var showVersion, showHelp, dryRun bool
	fs.StringVarP(&configPath, "config", "c", "", "YAML config file")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("sockwrap %s\n", version)
		return nil
	}

	// ── layer configuration ──────────────────────────────────────
	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, &fv, cfg)

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if logger.Level() >= util.LogDebug {
		cfg.Trace = logger.Named("conn")
	}
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	if dryRun {
		logger.Info("configuration OK: %s", cfg.Address())
		return nil
	}

	err = mode.Run(ctx)
	if logger.Level() >= util.LogVerbose {
		logger.Verbose("metrics:\n%s", m.JSON())
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag the user set onto cfg.
func applyFlags(fs *flag.FlagSet, fv *flagValues, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.LocalPort = fv.localPort
		case "no-delay":
			cfg.NoDelay = fv.noDelay
		case "timeout":
			cfg.Timeout = fv.timeout
		case "connect-timeout":
			cfg.ConnectTimeout = fv.connectTimeout
		case "close-timeout":
			cfg.CloseTimeout = fv.closeTimeout
		case "high-water-mark":
			cfg.HighWaterMark = fv.highWaterMark
		case "retry":
			cfg.Retry = fv.retry
		case "key":
			cfg.TLS.KeyFile = fv.key
		case "cert":
			cfg.TLS.CertFile = fv.cert
		case "ca":
			cfg.TLS.CAFile = fv.ca
		case "servername":
			cfg.TLS.ServerName = fv.serverName
		case "request-cert":
			cfg.TLS.RequestCert = fv.requestCert
		case "insecure":
			cfg.TLS.RejectUnauthorized = !fv.insecure
		case "tunnel":
			cfg.Tunnel.Spec = fv.tunnel
		case "ssh-key":
			cfg.Tunnel.KeyPath = fv.sshKey
		case "ssh-password":
			cfg.Tunnel.Password = fv.sshPassword
		case "ssh-agent":
			cfg.Tunnel.UseAgent = fv.sshAgent
		case "strict-hostkey":
			cfg.Tunnel.StrictHostKey = fv.strictHostKey
		case "known-hosts":
			cfg.Tunnel.KnownHostsPath = fv.knownHosts
		case "verbose":
			cfg.Verbose = fv.verbose
		}
	})
}

// parsePositional reads "host port".  Either may be omitted when the
// config file or environment already supplies it.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
	case 1:
		cfg.Host = remaining[0]
	case 2:
		cfg.Host = remaining[0]
		port, err := strconv.Atoi(remaining[1])
		if err != nil {
			return fmt.Errorf("port %q: not a number", remaining[1])
		}
		cfg.Port = port
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sockwrap – TCP/TLS connection client v%s

Connects to a peer over TCP, or TLS when a key is given, and relays
stdin and stdout over it.

Usage:
  sockwrap [options] <host> <port>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  sockwrap example.com 80                               TCP connect
  sockwrap --key c.key --cert c.crt --ca ca.pem db 5433  Mutual TLS
  sockwrap --retry 5 flaky.internal 9000                Reconnect on refusal
  sockwrap -T admin@bastion db-internal 5432            SSH tunnel
  echo "hello" | sockwrap host.example.com 9000         Pipe data

Environment:
  SOCKWRAP_HOST, SOCKWRAP_PORT, SOCKWRAP_KEY, SOCKWRAP_CERT, SOCKWRAP_CA,
  SOCKWRAP_TUNNEL and friends override the config file; flags override both.
`)
}
