package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/bridge"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/executor"
	"github.com/nextlevelbuilder/agentcore/internal/fsm"
	"github.com/nextlevelbuilder/agentcore/internal/ratelimit"
	"github.com/nextlevelbuilder/agentcore/internal/telemetry"
	"github.com/nextlevelbuilder/agentcore/internal/toolregistry"
	"github.com/nextlevelbuilder/agentcore/internal/toolregistry/adapters"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the SSE debug bridge in front of the agent runtime",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("serve: load config failed", "error", err)
		os.Exit(1)
	}

	stopWatch, err := config.Watch(configPath, cfg, func(err error) {
		slog.Error("serve: config reload failed, keeping previous config", "error", err)
	})
	if err != nil {
		slog.Warn("serve: config hot-reload disabled", "error", err)
	} else {
		defer stopWatch()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Read once under the config's lock for the subsystems that are only
	// ever built at startup; cfg itself may be swapped underneath us by the
	// watcher started above, so every later read goes through cfg.Snapshot().
	startup := cfg.Snapshot()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint: startup.Telemetry.OTLPEndpoint,
		ServiceName:  startup.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("serve: telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("serve: telemetry shutdown failed", "error", err)
		}
	}()

	var busOpts []bus.Option
	if startup.Bus.HistoryLimit > 0 {
		busOpts = append(busOpts, bus.WithHistoryLimit(startup.Bus.HistoryLimit))
	}
	if startup.Bus.SubscriberBuffer > 0 {
		busOpts = append(busOpts, bus.WithSubscriberBuffer(startup.Bus.SubscriberBuffer))
	}
	eventBus := bus.New(busOpts...)
	snapshotBus := bus.NewSnapshotBus()
	if startup.Bus.HistoryLimit > 0 {
		snapshotBus = bus.NewSnapshotBus(bus.WithSnapshotHistoryLimit(startup.Bus.HistoryLimit))
	}

	registry := toolregistry.New()
	registry.Register(adapters.Echo{})
	registry.Register(adapters.Fail{})

	limiter := ratelimit.New(startup.RateLimit.RPS, startup.RateLimit.Burst)

	newMachine := func(rootTask agentcontext.TaskNode) (*fsm.AgentMachine, *agentcontext.AgentContext) {
		agentCtx := agentcontext.New(uuid.NewString(), rootTask)
		ex := executor.New(registry, eventBus)
		live := cfg.Snapshot()
		guards := fsm.GuardConfig{
			MaxDurationMs: live.Guards.MaxDurationMs,
			MaxIterations: live.Guards.MaxIterations,
			MaxFailures:   live.Guards.MaxFailures,
		}
		machine := fsm.New(agentCtx, ex, fsm.EchoPlanner{}, fsm.CompleteOnSuccessReflector{}, eventBus, snapshotBus, fsm.WithGuards(guards))
		return machine, agentCtx
	}

	srv := bridge.New(startup.Bridge.Host, startup.Bridge.Port, eventBus, snapshotBus, newMachine, bridge.WithRateLimiter(limiter))
	if err := srv.Start(ctx); err != nil {
		slog.Error("serve: bridge server failed", "error", err)
		os.Exit(1)
	}
}
