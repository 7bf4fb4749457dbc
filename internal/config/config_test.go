package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(map[string]any{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Host != defaultHostname {
		t.Errorf("expected default host %q, got %q", defaultHostname, cfg.Transport.Host)
	}
	if cfg.Transport.Security != "none" {
		t.Errorf("expected default security %q, got %q", "none", cfg.Transport.Security)
	}
	if cfg.Encoding != "json" {
		t.Errorf("expected default encoding %q, got %q", "json", cfg.Encoding)
	}
}

func TestLoad_OverridesHostPortSecurity(t *testing.T) {
	cfg, err := Load(map[string]any{
		"host":     "example.org",
		"port":     "9090", // exercises spf13/cast's string->int coercion
		"security": "tls",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Host != "example.org" {
		t.Errorf("expected host %q, got %q", "example.org", cfg.Transport.Host)
	}
	if cfg.Transport.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Transport.Port)
	}
	if cfg.Transport.Security != "tls" {
		t.Errorf("expected security %q, got %q", "tls", cfg.Transport.Security)
	}
}

func TestLoad_CertAuthorities(t *testing.T) {
	cfg, err := Load(map[string]any{"cert_authorities": []any{"ca1.pem", "ca2.pem"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Transport.CertAuthorities) != 2 {
		t.Fatalf("expected 2 CA entries, got %d", len(cfg.Transport.CertAuthorities))
	}
}

func TestLoad_Authentication(t *testing.T) {
	cfg, err := Load(map[string]any{"authentication": map[string]any{"token": "abc"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth["token"] != "abc" {
		t.Errorf("expected auth token %q, got %v", "abc", cfg.Auth["token"])
	}
}

func TestLoad_UnsupportedEncodingRejected(t *testing.T) {
	_, err := Load(map[string]any{"encoding": "protobuf"})
	if err == nil {
		t.Fatal("expected an error for an unsupported encoding")
	}
}

func TestLoad_DiscoveryServiceFlag(t *testing.T) {
	cfg, err := Load(map[string]any{"discovery": map[string]any{"service": "true"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Discovery {
		t.Error("expected discovery.service to enable Discovery")
	}
}
