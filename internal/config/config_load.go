package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Host: "0.0.0.0",
			Port: 8780,
		},
		Guards: GuardsConfig{
			MaxDurationMs: 300_000,
			MaxIterations: 50,
			MaxFailures:   5,
		},
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 5,
		},
		Bus: BusConfig{
			HistoryLimit:     1000,
			SubscriberBuffer: 256,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: Load returns defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AGENTCORE_BRIDGE_HOST", &c.Bridge.Host)
	if v := os.Getenv("AGENTCORE_BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Bridge.Port = port
		}
	}

	if v := os.Getenv("AGENTCORE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Guards.MaxIterations = n
		}
	}
	if v := os.Getenv("AGENTCORE_MAX_DURATION_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Guards.MaxDurationMs = n
		}
	}

	if v := os.Getenv("AGENTCORE_RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RPS = n
		}
	}

	envStr("AGENTCORE_TELEMETRY_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	envStr("AGENTCORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTCORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	snap := cfg.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Watch starts an fsnotify watcher on path and atomically replaces cfg's
// contents whenever the file changes on disk. The returned func stops the
// watcher. Parse errors on a changed file are logged to onError and the
// previously loaded config is left untouched.
func Watch(path string, cfg *Config, onError func(error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, loadErr := Load(path)
				if loadErr != nil {
					if onError != nil {
						onError(loadErr)
					}
					continue
				}
				cfg.ReplaceFrom(reloaded)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(werr)
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
