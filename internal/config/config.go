// Package config loads the process configuration from environment variables
// and command-line flags. Flags win over environment variables; both fall
// back to mode-aware defaults.
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
	envVarListenAddr      = "GROUPCAST_LISTEN_ADDR"
	envVarMode            = "GROUPCAST_MODE"
	envVarLogFormat       = "GROUPCAST_LOG_FORMAT"
	envVarLogLevel        = "GROUPCAST_LOG_LEVEL"
	envVarShutdownTimeout = "GROUPCAST_SHUTDOWN_TIMEOUT"
	envVarStaticDir       = "GROUPCAST_STATIC_DIR"

	// Media engine selection and Kurento client knobs.
	envVarMediaEngine      = "MEDIA_ENGINE"
	envVarKurentoWSURL     = "KURENTO_WS_URL"
	envVarEngineRPCTimeout = "ENGINE_RPC_TIMEOUT"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
)

const (
	DefaultListenAddr      = "127.0.0.1:8443"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultMediaEngine      MediaEngine = MediaEngineEmbedded
	DefaultKurentoWSURL                 = "ws://127.0.0.1:8888/kurento"
	DefaultEngineRPCTimeout             = 10 * time.Second

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
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

// MediaEngine selects which media.Engine implementation the process runs
// against.
type MediaEngine string

const (
	// MediaEngineKurento drives an external Kurento Media Server over its
	// JSON-RPC WebSocket API.
	MediaEngineKurento MediaEngine = "kurento"
	// MediaEngineEmbedded runs the in-process engine built on pion/webrtc.
	MediaEngineEmbedded MediaEngine = "embedded"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// StaticDir, when non-empty, is served at / for the demo client.
	StaticDir string

	MediaEngine      MediaEngine
	KurentoWSURL     string
	EngineRPCTimeout time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
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

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if !envLogFormatOK || envLogFormat == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if !envLogLevelOK || envLogLevel == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	engineStr := envOrDefault(lookup, envVarMediaEngine, string(DefaultMediaEngine))
	kurentoWSURL := envOrDefault(lookup, envVarKurentoWSURL, DefaultKurentoWSURL)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	engineRPCTimeout, err := envDurationOrDefault(lookup, envVarEngineRPCTimeout, DefaultEngineRPCTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMsgBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMsgsPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	modeStr := modeDefault
	logFormatStr := logFormatDefault
	logLevelStr := logLevelDefault

	fs := flag.NewFlagSet("groupcast", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory served at / for the demo client (env "+envVarStaticDir+")")
	fs.StringVar(&engineStr, "media-engine", engineStr, "Media engine: kurento or embedded (env "+envVarMediaEngine+")")
	fs.StringVar(&kurentoWSURL, "kurento-ws-url", kurentoWSURL, "Kurento JSON-RPC WebSocket URL (env "+envVarKurentoWSURL+")")
	fs.DurationVar(&engineRPCTimeout, "engine-rpc-timeout", engineRPCTimeout, "Per-call media engine RPC timeout (env "+envVarEngineRPCTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "signaling-ws-idle-timeout", wsIdleTimeout, "Close signaling sockets idle longer than this (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "signaling-ws-ping-interval", wsPingInterval, "Signaling WebSocket ping interval (env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMsgBytes, "max-signaling-message-bytes", maxMsgBytes, "Max inbound signaling message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMsgsPerSecond, "max-signaling-messages-per-second", maxMsgsPerSecond, "Per-session signaling message rate cap, 0 disables (env "+envVarMaxSignalingMessagesPerSecond+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	engine, err := parseMediaEngine(engineStr)
	if err != nil {
		return Config{}, err
	}

	if engine == MediaEngineKurento {
		u, err := url.Parse(kurentoWSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return Config{}, fmt.Errorf("invalid %s %q: expected a ws:// or wss:// URL", envVarKurentoWSURL, kurentoWSURL)
		}
	}
	if staticDir != "" {
		info, err := os.Stat(staticDir)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarStaticDir, staticDir, err)
		}
		if !info.IsDir() {
			return Config{}, fmt.Errorf("invalid %s %q: not a directory", envVarStaticDir, staticDir)
		}
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarShutdownTimeout)
	}
	if engineRPCTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarEngineRPCTimeout)
	}
	if maxMsgBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarMaxSignalingMessageBytes)
	}
	if maxMsgsPerSecond < 0 {
		return Config{}, fmt.Errorf("invalid %s: must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}
	if wsPingInterval > 0 && wsIdleTimeout > 0 && wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}

	return Config{
		ListenAddr:                    listenAddr,
		Mode:                          mode,
		LogFormat:                     logFormat,
		LogLevel:                      logLevel,
		ShutdownTimeout:               shutdownTimeout,
		StaticDir:                     staticDir,
		MediaEngine:                   engine,
		KurentoWSURL:                  kurentoWSURL,
		EngineRPCTimeout:              engineRPCTimeout,
		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		MaxSignalingMessageBytes:      maxMsgBytes,
		MaxSignalingMessagesPerSecond: maxMsgsPerSecond,
	}, nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
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

func parseMediaEngine(raw string) (MediaEngine, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(MediaEngineKurento):
		return MediaEngineKurento, nil
	case string(MediaEngineEmbedded):
		return MediaEngineEmbedded, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarMediaEngine, raw, MediaEngineKurento, MediaEngineEmbedded)
	}
}
