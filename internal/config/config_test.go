package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("dev mode LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("dev mode LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.MediaEngine != MediaEngineEmbedded {
		t.Errorf("MediaEngine = %q, want embedded", cfg.MediaEngine)
	}
	if cfg.EngineRPCTimeout != DefaultEngineRPCTimeout {
		t.Errorf("EngineRPCTimeout = %v, want %v", cfg.EngineRPCTimeout, DefaultEngineRPCTimeout)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes = %d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
}

func TestProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		envVarMode: "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("prod LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("prod LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		envVarListenAddr:  "10.0.0.1:9999",
		envVarMediaEngine: "kurento",
	}), []string{"-listen-addr", "127.0.0.1:8443", "-media-engine", "embedded"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8443" {
		t.Errorf("ListenAddr = %q, flag should win", cfg.ListenAddr)
	}
	if cfg.MediaEngine != MediaEngineEmbedded {
		t.Errorf("MediaEngine = %q, flag should win", cfg.MediaEngine)
	}
}

func TestKurentoEngineValidatesURL(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		envVarMediaEngine:  "kurento",
		envVarKurentoWSURL: "http://not-a-ws-url",
	}), nil)
	if err == nil {
		t.Fatalf("expected invalid KURENTO_WS_URL error")
	}

	cfg, err := load(lookupFrom(map[string]string{
		envVarMediaEngine:  "kurento",
		envVarKurentoWSURL: "wss://kms.example.com:8433/kurento",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KurentoWSURL != "wss://kms.example.com:8433/kurento" {
		t.Errorf("KurentoWSURL = %q", cfg.KurentoWSURL)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := []map[string]string{
		{envVarMode: "staging"},
		{envVarLogLevel: "verbose"},
		{envVarLogFormat: "xml"},
		{envVarMediaEngine: "gstreamer"},
		{envVarShutdownTimeout: "soon"},
		{envVarShutdownTimeout: "-5s"},
		{envVarMaxSignalingMessageBytes: "0"},
		{envVarMaxSignalingMessagesPerSecond: "-1"},
		{envVarSignalingWSPingInterval: "2m", envVarSignalingWSIdleTimeout: "1m"},
	}
	for _, env := range cases {
		if _, err := load(lookupFrom(env), nil); err == nil {
			t.Errorf("load(%v) accepted invalid input", env)
		}
	}
}

func TestDurationEnvParsed(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		envVarEngineRPCTimeout:       "3s",
		envVarSignalingWSIdleTimeout: "90s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineRPCTimeout != 3*time.Second {
		t.Errorf("EngineRPCTimeout = %v, want 3s", cfg.EngineRPCTimeout)
	}
	if cfg.SignalingWSIdleTimeout != 90*time.Second {
		t.Errorf("SignalingWSIdleTimeout = %v, want 90s", cfg.SignalingWSIdleTimeout)
	}
}

func TestStaticDirMustExist(t *testing.T) {
	if _, err := load(lookupFrom(map[string]string{
		envVarStaticDir: "/nonexistent/groupcast-static",
	}), nil); err == nil {
		t.Fatalf("expected missing static dir error")
	}

	dir := t.TempDir()
	cfg, err := load(lookupFrom(map[string]string{envVarStaticDir: dir}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StaticDir != dir {
		t.Errorf("StaticDir = %q, want %q", cfg.StaticDir, dir)
	}
}
