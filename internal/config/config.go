// Package config is the root configuration for the agent runtime: bridge
// listen address, run guards, rate limiting, telemetry export, and the
// bounded history sizes the event bus and bridge replay buffer use.
package config

import (
	"sync"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge"`
	Guards    GuardsConfig    `json:"guards"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Bus       BusConfig       `json:"bus,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// BridgeConfig configures the HTTP/SSE bridge server.
type BridgeConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GuardsConfig bounds a single agent run (see fsm.GuardConfig).
type GuardsConfig struct {
	MaxDurationMs int64 `json:"max_duration_ms,omitempty"`
	MaxIterations int   `json:"max_iterations,omitempty"`
	MaxFailures   int   `json:"max_failures,omitempty"`
}

// RateLimitConfig configures POST /run throttling. RPS<=0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// BusConfig configures the EventBus's bounded buffers.
type BusConfig struct {
	HistoryLimit     int `json:"history_limit,omitempty"`
	SubscriberBuffer int `json:"subscriber_buffer,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
// Matches the shape of a Jaeger/Tempo/Datadog-compatible OTLP/HTTP receiver.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used for atomic config swaps under a live watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge = src.Bridge
	c.Guards = src.Guards
	c.RateLimit = src.RateLimit
	c.Bus = src.Bus
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of c safe to read without holding c's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{Bridge: c.Bridge, Guards: c.Guards, RateLimit: c.RateLimit, Bus: c.Bus, Telemetry: c.Telemetry}
}
