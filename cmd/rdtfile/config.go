package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	mode string // "send" | "recv"

	file string

	peerHost string
	peerPort int
	listen   string

	secure bool
	raw    bool

	acceptTimeout time.Duration

	syncTimeout          time.Duration
	recvLoopTimeout      time.Duration
	sendRerequestTimeout time.Duration
	recvRerequestTimeout time.Duration
	idleRetries          int
	drainTimeout         time.Duration

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	mode := flag.String("mode", "", "Operation mode: send|recv")
	file := flag.String("file", "", "File to send, or destination file for recv")
	peer := flag.String("peer", "", "Peer address host:port (send mode)")
	listen := flag.String("listen", ":9300", "UDP listen address (recv mode)")
	secure := flag.Bool("secure", false, "Use Diffie-Hellman key exchange and stream-cipher payload encryption")
	raw := flag.Bool("raw-socket", false, "Bind/connect with a raw AF_INET/SOCK_DGRAM endpoint instead of net.UDPConn (Linux only)")
	acceptTO := flag.Duration("accept-timeout", 0, "recv mode: how long to wait for the first SYNC datagram (0 = block indefinitely)")

	syncTO := flag.Duration("sync-timeout", 0, "SYNC round base timeout (0 = library default)")
	recvLoopTO := flag.Duration("recv-loop-timeout", 0, "BULK receive poll timeout (0 = library default)")
	sendRerequestTO := flag.Duration("send-rerequest-timeout", 0, "sender REPAIR wait timeout (0 = library default)")
	recvRerequestTO := flag.Duration("recv-rerequest-timeout", 0, "receiver REPAIR wait timeout (0 = library default)")
	idleRetries := flag.Int("idle-retries", 0, "REPAIR idle-retry budget (0 = library default)")
	drainTO := flag.Duration("drain-timeout", 0, "TEARDOWN socket-drain timeout (0 = library default)")

	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement (recv mode)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default rdtfile-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.mode = *mode
	cfg.file = *file
	cfg.listen = *listen
	cfg.secure = *secure
	cfg.raw = *raw
	cfg.acceptTimeout = *acceptTO
	cfg.syncTimeout = *syncTO
	cfg.recvLoopTimeout = *recvLoopTO
	cfg.sendRerequestTimeout = *sendRerequestTO
	cfg.recvRerequestTimeout = *recvRerequestTO
	cfg.idleRetries = *idleRetries
	cfg.drainTimeout = *drainTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if *peer != "" {
		host, portStr, err := splitHostPort(*peer)
		if err == nil {
			cfg.peerHost = host
			if n, perr := strconv.Atoi(portStr); perr == nil {
				cfg.peerPort = n
			}
		}
	}

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func splitHostPort(hostport string) (string, string, error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return "", "", fmt.Errorf("address %q missing port", hostport)
	}
	return hostport[:i], hostport[i+1:], nil
}

// validate performs basic semantic validation of the parsed configuration. It
// does not open files or sockets -- only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.mode {
	case "send", "recv":
	default:
		return fmt.Errorf("mode must be send or recv (got %q)", c.mode)
	}
	if c.file == "" {
		return errors.New("file is required")
	}
	if c.mode == "send" && c.peerHost == "" {
		return errors.New("peer is required in send mode")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.idleRetries < 0 {
		return errors.New("idle-retries must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps RDTFILE_* environment variables onto cfg unless the
// corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["mode"]; !ok {
		if v, ok := get("RDTFILE_MODE"); ok && v != "" {
			c.mode = v
		}
	}
	if _, ok := set["file"]; !ok {
		if v, ok := get("RDTFILE_FILE"); ok && v != "" {
			c.file = v
		}
	}
	if _, ok := set["peer"]; !ok {
		if v, ok := get("RDTFILE_PEER"); ok && v != "" {
			if host, portStr, err := splitHostPort(v); err == nil {
				c.peerHost = host
				if n, perr := strconv.Atoi(portStr); perr == nil {
					c.peerPort = n
				}
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("RDTFILE_LISTEN"); ok && v != "" {
			c.listen = v
		}
	}
	if _, ok := set["secure"]; !ok {
		if v, ok := get("RDTFILE_SECURE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.secure = true
			case "0", "false", "no", "off":
				c.secure = false
			}
		}
	}
	if _, ok := set["raw-socket"]; !ok {
		if v, ok := get("RDTFILE_RAW_SOCKET"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.raw = true
			case "0", "false", "no", "off":
				c.raw = false
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("RDTFILE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("RDTFILE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("RDTFILE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("RDTFILE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RDTFILE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("RDTFILE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("RDTFILE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
