package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("client:\n  account_id: \"2\"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Client.Environment != "production" {
		t.Errorf("environment = %q, want production", cfg.Client.Environment)
	}
	if cfg.Client.Residency != "US" {
		t.Errorf("residency = %q, want US", cfg.Client.Residency)
	}
	if cfg.Client.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.Client.Timeout)
	}
	if cfg.Client.RetryInterval != time.Second {
		t.Errorf("retry interval = %v, want 1s", cfg.Client.RetryInterval)
	}
	if cfg.Cache.Namespace != "apiclient.cache" {
		t.Errorf("cache namespace = %q", cfg.Cache.Namespace)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
	if cfg.Client.AccountID != "2" {
		t.Errorf("account = %q", cfg.Client.AccountID)
	}
}

func TestLoad_ReadsFileAndRemaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nepal.yaml")
	content := `client:
  environment: integration
  residency: EMEA
  retry_count: 3
  retry_interval: 250ms
runtime:
  disable_endpoints_resolution: true
locations:
  - loc_type_id: "insight:api"
    uri: "http://localhost:8888"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.Environment != "integration" || cfg.Client.Residency != "EMEA" {
		t.Errorf("unexpected client context: %+v", cfg.Client)
	}
	if cfg.Client.RetryCount != 3 || cfg.Client.RetryInterval != 250*time.Millisecond {
		t.Errorf("unexpected retry settings: %+v", cfg.Client)
	}
	if !cfg.Runtime.DisableEndpointsResolution {
		t.Error("expected disable_endpoints_resolution to be loaded")
	}
	if len(cfg.Locations) != 1 || cfg.Locations[0].URI != "http://localhost:8888" {
		t.Errorf("unexpected remaps: %+v", cfg.Locations)
	}
}

func TestEnvOverrides_FileWins(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenFile, []byte("from-file\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	t.Setenv("NEPAL_TOKEN", "from-env")
	t.Setenv("NEPAL_TOKEN_FILE", tokenFile)

	cfg := Default()
	if cfg.Client.Token != "from-file" {
		t.Errorf("token = %q, want from-file", cfg.Client.Token)
	}
}

func TestRuntime_HotUpdate(t *testing.T) {
	var nilRuntime *Runtime
	if nilRuntime.DisableEndpointsResolution() || nilRuntime.ResolveAccountMetadata() {
		t.Fatal("nil runtime must report all options off")
	}

	r := NewRuntime(RuntimeOptions{ResolveAccountMetadata: true})
	if r.DisableEndpointsResolution() {
		t.Error("expected resolution enabled")
	}
	if !r.ResolveAccountMetadata() {
		t.Error("expected account metadata resolution on")
	}

	r.SetDisableEndpointsResolution(true)
	if !r.DisableEndpointsResolution() {
		t.Error("expected resolution disabled after update")
	}
}
