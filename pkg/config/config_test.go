package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yaml := "address: 0.0.0.0\nport: 8080\nkeepAliveMaxRequests: 50\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "0.0.0.0" || cfg.Port != 8080 {
		t.Fatalf("unexpected address/port: %+v", cfg)
	}
	if cfg.KeepAliveMaxRequests != 50 {
		t.Fatalf("expected keepAliveMaxRequests 50, got %d", cfg.KeepAliveMaxRequests)
	}

	sc := cfg.ToServerConfig()
	if sc.KeepAliveMaxRequests != 50 {
		t.Fatalf("expected translated config to carry keepAliveMaxRequests, got %+v", sc)
	}

	wrapper, err := cfg.TLSWrapper()
	if err != nil {
		t.Fatalf("tls wrapper: %v", err)
	}
	if wrapper != nil {
		t.Fatal("expected nil TLS wrapper when tls is unset")
	}
}

func TestLoadClientConfigURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	yaml := "url: http://example.test:9090/base\nconnectTimeout: 5s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.URL != "http://example.test:9090/base" {
		t.Fatalf("unexpected url: %q", cfg.URL)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("expected connectTimeout 5s, got %v", cfg.ConnectTimeout)
	}

	client, err := cfg.NewClient()
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.IsConnected() {
		t.Fatal("expected a freshly built client to not be connected yet")
	}
}
