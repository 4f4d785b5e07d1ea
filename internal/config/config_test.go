package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("unexpected default listen: %q", cfg.Listen)
	}
	if cfg.Auth.BaseURL != "https://auth.api-wolvesville.com" {
		t.Errorf("unexpected auth base URL: %q", cfg.Auth.BaseURL)
	}
	if cfg.Pool.SharedName != "micheal163512" {
		t.Errorf("unexpected shared name: %q", cfg.Pool.SharedName)
	}
	if cfg.Pool.InitialGems != 5000 {
		t.Errorf("unexpected initial gems: %d", cfg.Pool.InitialGems)
	}
	if cfg.Captcha.SiteKey != "0x4AAAAAAATLZS5RyqlMGxsL" {
		t.Errorf("unexpected site key: %q", cfg.Captcha.SiteKey)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemnexus.yaml")
	content := `
listen: "0.0.0.0:9090"
captcha:
  api_key: "file-key"
pool:
  shared_name: "othername"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9090" {
		t.Errorf("listen not overridden: %q", cfg.Listen)
	}
	if cfg.Captcha.APIKey != "file-key" {
		t.Errorf("captcha key not overridden: %q", cfg.Captcha.APIKey)
	}
	if cfg.Pool.SharedName != "othername" {
		t.Errorf("shared name not overridden: %q", cfg.Pool.SharedName)
	}
	// Untouched sections keep their defaults.
	if cfg.CoreAPI.BaseURL != "https://core.api-wolvesville.com" {
		t.Errorf("core base URL should keep default: %q", cfg.CoreAPI.BaseURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemnexus.yaml")
	content := `
captcha:
  api_key: "file-key"
service:
  email: "file@example.com"
  password: "file-pw"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TWOCAPTCHA_API_KEY", "env-key")
	t.Setenv("WOLVESVILLE_EMAIL", "env@example.com")
	t.Setenv("WOLVESVILLE_PASSWORD", "env-pw")
	t.Setenv("GEMNEXUS_LISTEN", "127.0.0.1:7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Captcha.APIKey != "env-key" {
		t.Errorf("expected env captcha key, got %q", cfg.Captcha.APIKey)
	}
	if cfg.Service.Email != "env@example.com" || cfg.Service.Password != "env-pw" {
		t.Errorf("expected env credentials, got %q / %q", cfg.Service.Email, cfg.Service.Password)
	}
	if cfg.Listen != "127.0.0.1:7777" {
		t.Errorf("expected env listen, got %q", cfg.Listen)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Captcha.APIKey = "key"
	cfg.Service.Email = "svc@example.com"
	cfg.Service.Password = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	missing := *cfg
	missing.Captcha.APIKey = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing captcha key")
	}

	missing = *cfg
	missing.Service.Password = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing service password")
	}

	missing = *cfg
	missing.Pool.SharedName = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing shared name")
	}
}
