package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/license-console/license-console/internal/cache"
	"github.com/license-console/license-console/internal/config"
	"github.com/license-console/license-console/internal/middleware"
)

func TestShipperConfigs(t *testing.T) {
	in := []config.AuditShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{
			URL: "https://siem.example.com/ingest", TimeoutSecs: 7, BatchSize: 20, FlushInterval: 3,
		}},
		{Enabled: false, Type: "file", File: &config.AuditFileConfig{Path: "/var/log/audit.jsonl", MaxSizeMB: 10}},
	}

	out := shipperConfigs(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	wh := out[0].Webhook
	if wh == nil || wh.Timeout != 7*time.Second || wh.FlushInterval != 3*time.Second || wh.BatchSize != 20 {
		t.Errorf("webhook = %+v", wh)
	}
	if out[0].File != nil || out[0].Syslog != nil {
		t.Error("unset sections should stay nil")
	}
	if out[1].Enabled || out[1].File == nil || out[1].File.MaxSizeMB != 10 {
		t.Errorf("file shipper = %+v", out[1])
	}
}

func TestPlanCache(t *testing.T) {
	cfg := &config.Config{PlanCache: config.PlanCacheConfig{Backend: "none"}}
	if c := planCache(cfg, nil); c != nil {
		t.Errorf("backend none = %T, want nil", c)
	}

	cfg.PlanCache.Backend = "memory"
	if _, ok := planCache(cfg, nil).(*cache.Memory); !ok {
		t.Error("backend memory should build a memory cache")
	}

	cfg.PlanCache.Backend = "redis"
	if _, ok := planCache(cfg, nil).(*cache.Memory); !ok {
		t.Error("backend redis without a client should fall back to memory")
	}
}

func TestRateLimiter(t *testing.T) {
	cfg := &config.Config{}
	if l, stop := rateLimiter(cfg, nil); l != nil {
		stop()
		t.Error("disabled rate limiting should return a nil limiter")
	}

	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: true, RequestsPerMinute: 60, Burst: 5}
	l, stop := rateLimiter(cfg, nil)
	defer stop()
	if _, ok := l.(*middleware.RateLimiter); !ok {
		t.Errorf("limiter = %T, want in-memory limiter without redis", l)
	}
}

func TestParseScopes(t *testing.T) {
	got, err := parseScopes([]string{" organizations:read ", "audit:read", ""})
	if err != nil {
		t.Fatalf("parseScopes() error: %v", err)
	}
	if strings.Join(got, ",") != "organizations:read,audit:read" {
		t.Errorf("parseScopes() = %v", got)
	}

	if _, err := parseScopes([]string{"", " "}); err == nil {
		t.Error("parseScopes() should require at least one scope")
	}
	if _, err := parseScopes([]string{"modules:write"}); err == nil {
		t.Error("parseScopes() should reject unknown scopes")
	}
}

func TestKeygenCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})
	if err := root.Execute(); err != nil {
		t.Fatalf("keygen error: %v", err)
	}

	line := strings.TrimSpace(out.String())
	value, ok := strings.CutPrefix(line, config.EncryptionKeyEnv+"=")
	if !ok {
		t.Fatalf("output = %q", line)
	}
	key, err := hex.DecodeString(value)
	if err != nil || len(key) != 32 {
		t.Errorf("key = %q, want 64 hex characters", value)
	}

	// The printed value must be accepted by the config loader.
	lic := config.LicenseConfig{EncryptionKey: value}
	if _, err := lic.MasterKey(); err != nil {
		t.Errorf("MasterKey() rejected generated key: %v", err)
	}
}

func TestEncodeKey(t *testing.T) {
	key := bytes.Repeat([]byte{0xab}, 32)
	if _, err := encodeKey(key, "base64"); err != nil {
		t.Errorf("base64: %v", err)
	}
	if _, err := encodeKey(key, "pem"); err == nil {
		t.Error("unknown encoding should fail")
	}
}
