package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_HasSaneGuardValues(t *testing.T) {
	cfg := Default()
	if cfg.Guards.MaxIterations <= 0 {
		t.Error("expected a positive default MaxIterations")
	}
	if cfg.RateLimit.RPS <= 0 {
		t.Error("expected rate limiting enabled by default")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.Port != Default().Bridge.Port {
		t.Errorf("got port %d, want default %d", cfg.Bridge.Port, Default().Bridge.Port)
	}
}

func TestLoad_ParsesJSON5AndAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	content := `{
		// trailing commas and comments are fine in json5
		bridge: { host: "127.0.0.1", port: 9001 },
		guards: { max_iterations: 7 },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("AGENTCORE_BRIDGE_PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.Host != "127.0.0.1" {
		t.Errorf("got host %q, want 127.0.0.1", cfg.Bridge.Host)
	}
	if cfg.Bridge.Port != 9999 {
		t.Errorf("got port %d, want env override 9999", cfg.Bridge.Port)
	}
	if cfg.Guards.MaxIterations != 7 {
		t.Errorf("got max_iterations %d, want 7", cfg.Guards.MaxIterations)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Default()
	original.Bridge.Port = 4242
	if err := Save(path, original); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Bridge.Port != 4242 {
		t.Errorf("got port %d, want 4242", loaded.Bridge.Port)
	}
}

func TestReplaceFrom_SwapsContentsAtomically(t *testing.T) {
	cfg := Default()
	next := Default()
	next.Bridge.Port = 1234

	cfg.ReplaceFrom(next)
	if cfg.Bridge.Port != 1234 {
		t.Errorf("got port %d, want 1234 after ReplaceFrom", cfg.Bridge.Port)
	}
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{bridge: {host: "127.0.0.1", port: 9001}}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var watchErr error
	stop, err := Watch(path, cfg, func(e error) { watchErr = e })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte(`{bridge: {host: "127.0.0.1", port: 9002}}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cfg.Snapshot().Bridge.Port == 9002 {
			if watchErr != nil {
				t.Errorf("unexpected onError callback: %v", watchErr)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("got port %d after 2s, want reload to 9002", cfg.Snapshot().Bridge.Port)
}
