// Package config loads and validates runtime configuration for the relay and
// the agent from environment variables and CLI flags (flags win).
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "SCENECAST_RELAY_LISTEN_ADDR"
	envVarMode            = "SCENECAST_MODE"
	envVarLogFormat       = "SCENECAST_LOG_FORMAT"
	envVarLogLevel        = "SCENECAST_LOG_LEVEL"
	envVarShutdownTimeout = "SCENECAST_SHUTDOWN_TIMEOUT"

	// Relay hub knobs.
	envVarMaxPeers                      = "MAX_PEERS"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSWriteTimeout       = "SIGNALING_WS_WRITE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"

	// Agent knobs.
	envVarRelayURL = "SCENECAST_RELAY_URL"
	envVarStunURLs = "SCENECAST_STUN_URLS"

	DefaultListenAddr                    = ":8080"
	DefaultShutdownTimeout               = 15 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultRelayURL                      = "ws://127.0.0.1:8080/ws"

	// DefaultMaxPeers caps the hub at the point-to-point pair the broadcast
	// emulates. Set MAX_PEERS=0 to allow multi-party broadcast.
	DefaultMaxPeers = 2

	// DefaultMaxSignalingMessageBytes bounds a single relayed payload. Session
	// descriptions for a single video track fit comfortably in 64KiB.
	DefaultMaxSignalingMessageBytes = 64 * 1024

	DefaultMaxSignalingMessagesPerSecond = 64
	DefaultSignalingWSWriteTimeout       = 1 * time.Second
	DefaultSignalingWSPingInterval       = 30 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the relay daemon configuration.
type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// MaxPeers caps concurrent signaling connections; 0 means unlimited
	// (explicit multi-party broadcast).
	MaxPeers int

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSWriteTimeout       time.Duration
	SignalingWSPingInterval       time.Duration
}

// AgentConfig is the render-host agent configuration.
type AgentConfig struct {
	RelayURL  string
	StunURLs  []string
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	maxPeers, err := envIntOrDefault(lookup, envVarMaxPeers, DefaultMaxPeers)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault[int64](lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSWriteTimeout, DefaultSignalingWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("scenecast-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.IntVar(&maxPeers, "max-peers", maxPeers, "Max concurrent signaling peers, 0 = unlimited (env "+envVarMaxPeers+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max relayed payload size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Per-connection inbound message rate, 0 = unlimited (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.DurationVar(&writeTimeout, "signaling-ws-write-timeout", writeTimeout, "Per-recipient send deadline during broadcast (env "+envVarSignalingWSWriteTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "WebSocket keepalive ping interval, 0 = disabled (env "+envVarSignalingWSPingInterval+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		MaxPeers: maxPeers,

		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SignalingWSWriteTimeout:       writeTimeout,
		SignalingWSPingInterval:       pingInterval,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("invalid max peers %d (must be >= 0)", c.MaxPeers)
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("invalid max signaling message bytes %d (must be > 0)", c.MaxSignalingMessageBytes)
	}
	if c.MaxSignalingMessagesPerSecond < 0 {
		return fmt.Errorf("invalid max signaling messages per second %d (must be >= 0)", c.MaxSignalingMessagesPerSecond)
	}
	if c.SignalingWSWriteTimeout <= 0 {
		return fmt.Errorf("invalid signaling write timeout %s (must be > 0)", c.SignalingWSWriteTimeout)
	}
	if c.SignalingWSPingInterval < 0 {
		return fmt.Errorf("invalid signaling ping interval %s (must be >= 0)", c.SignalingWSPingInterval)
	}
	return nil
}

func LoadAgent(args []string) (AgentConfig, error) {
	return loadAgent(os.LookupEnv, args)
}

func loadAgent(lookup func(string) (string, bool), args []string) (AgentConfig, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	relayURL := envOrDefault(lookup, envVarRelayURL, DefaultRelayURL)
	stunURLsStr := envOrDefault(lookup, envVarStunURLs, "")
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	fs := flag.NewFlagSet("scenecast-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&relayURL, "relay-url", relayURL, "Signaling relay WebSocket URL (env "+envVarRelayURL+")")
	fs.StringVar(&stunURLsStr, "stun-urls", stunURLsStr, "Comma-separated STUN server URLs (env "+envVarStunURLs+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")

	if err := fs.Parse(args); err != nil {
		return AgentConfig{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return AgentConfig{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return AgentConfig{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return AgentConfig{}, err
	}

	u, err := url.Parse(relayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return AgentConfig{}, fmt.Errorf("invalid relay URL %q (expected ws:// or wss://)", relayURL)
	}

	var stunURLs []string
	for _, s := range strings.Split(stunURLsStr, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return AgentConfig{}, fmt.Errorf("invalid STUN URL %q", s)
		}
		stunURLs = append(stunURLs, s)
	}

	return AgentConfig{
		RelayURL:  relayURL,
		StunURLs:  stunURLs,
		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  level,
	}, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(format LogFormat, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch format {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault[T int | int64](lookup func(string) (string, bool), key string, fallback T) (T, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return T(n), nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
