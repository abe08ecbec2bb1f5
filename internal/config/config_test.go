package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registry.UpCapacity != Default().Registry.UpCapacity {
		t.Fatalf("expected default capacity, got %d", cfg.Registry.UpCapacity)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	content := []byte("debug:\n  address: 127.0.0.1:9191\nregistry:\n  up_capacity: 256\nsweep:\n  cron: \"*/5 * * * *\"\n")
	if err := os.WriteFile(p, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debug.Address != "127.0.0.1:9191" {
		t.Fatalf("debug.address = %q", cfg.Debug.Address)
	}
	if cfg.Registry.UpCapacity != 256 {
		t.Fatalf("registry.up_capacity = %d, want 256", cfg.Registry.UpCapacity)
	}
	if cfg.Sweep.Cron != "*/5 * * * *" {
		t.Fatalf("sweep.cron = %q", cfg.Sweep.Cron)
	}
	if cfg.Registry.DataCapacity != Default().Registry.DataCapacity {
		t.Fatalf("unset fields should keep default, got %d", cfg.Registry.DataCapacity)
	}
}

func TestApplyEnvOverridesRegistrationBurst(t *testing.T) {
	t.Setenv("DPQUEUE_REGISTRATION_BURST", "7")
	cfg := Default()
	if !ApplyEnv(cfg, Flags{}) {
		t.Fatalf("expected ApplyEnv to report env was used")
	}
	if cfg.Registry.RegistrationBurst != 7 {
		t.Fatalf("registration burst = %d, want 7", cfg.Registry.RegistrationBurst)
	}
}

func TestResolveConfigPathPrefersFlagWhenSet(t *testing.T) {
	t.Setenv("DPQUEUE_CONFIG", "/from/env.yaml")
	if got := ResolveConfigPath("/from/flag.yaml", true); got != "/from/flag.yaml" {
		t.Fatalf("got %q", got)
	}
	if got := ResolveConfigPath("/from/flag.yaml", false); got != "/from/env.yaml" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateAddrRejectsMissingPort(t *testing.T) {
	if err := validateAddr("localhost"); err == nil {
		t.Fatal("expected error for missing port")
	}
	if err := validateAddr(":7070"); err != nil {
		t.Fatalf("valid addr rejected: %v", err)
	}
}
