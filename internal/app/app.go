// Package app wires the agent's composition root: config, logging,
// telemetry, the registry, the optional debug server, the maintenance
// sweep, and the two drain loops (agent-side and dataplane-side),
// adapted from the teacher's internal/app/app.go and http.go but trimmed
// of everything that belonged to a pebble-backed message store (KMS child
// process, pebble open/close, API handler mux) rather than a queue
// substrate.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lagopus-go/dpqueue/internal/banner"
	"github.com/lagopus-go/dpqueue/internal/config"
	"github.com/lagopus-go/dpqueue/internal/debugsrv"
	"github.com/lagopus-go/dpqueue/internal/logging"
	"github.com/lagopus-go/dpqueue/internal/sweep"
	"github.com/lagopus-go/dpqueue/internal/telemetry"
	"github.com/lagopus-go/dpqueue/qmux"
	"github.com/lagopus-go/dpqueue/registry"
)

// Version is overridden by main.go at process start (itself set at build
// time via -ldflags), and shown on the startup banner.
var Version = "dev"

// App holds every long-lived component the agent process starts.
type App struct {
	cfg    *config.Config
	source string

	Registry  *registry.Registry
	Telemetry *telemetry.Telemetry
	Sweeper   *sweep.Sweeper
	debug     *debugsrv.Server

	agentMux     *qmux.Mux
	dataplaneMux *qmux.Mux

	stop chan struct{}
	wg   sync.WaitGroup
}

// New loads .env (if present, same call site the teacher's internal/app.go
// uses), builds the registry/telemetry/sweeper from cfg, and constructs
// the debug server when enabled. It does not start anything.
func New(cfg *config.Config, source string) (*App, error) {
	_ = godotenv.Load(".env")

	a := &App{
		cfg:          cfg,
		source:       source,
		Registry:     registry.New(cfg.Registry.RegistrationBurst),
		Telemetry:    telemetry.New(),
		agentMux:     qmux.New(),
		dataplaneMux: qmux.New(),
		stop:         make(chan struct{}),
	}
	a.Registry.SetRegistrationFailHook(a.Telemetry.RegistrationFails.Inc)

	sw, err := sweep.New(a.Registry, a.Telemetry, sweep.Config{
		Cron:   cfg.Sweep.Cron,
		DryRun: cfg.Sweep.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("build sweeper: %w", err)
	}
	a.Sweeper = sw

	if cfg.Debug.Enabled {
		a.debug = debugsrv.New(cfg.Debug.Address, a.Registry, a.Telemetry)
	}

	if cfg.Logging.AuditDir != "" {
		if err := logging.AttachAuditFileSink(cfg.Logging.AuditDir); err != nil {
			logging.Warn("audit_sink_unavailable", zap.Error(err))
		}
	}

	return a, nil
}

// Run starts the debug server and the sweep (each only when enabled in the
// config) and both drain loops, then blocks until ctx is cancelled. It always returns nil; component
// failures are logged, not propagated, the same "best effort background
// services, fatal only on startup" split the teacher's Run uses for its
// optional pieces.
func (a *App) Run(ctx context.Context) error {
	banner.Print(Version, a.cfg, a.source)

	if a.debug != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.debug.ListenAndServe(); err != nil {
				logging.Error("debugsrv_failed", zap.Error(err))
			}
		}()
	}

	if a.cfg.Sweep.Enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Sweeper.Run(ctx)
		}()
	}

	pollTimeout := time.Duration(a.cfg.Registry.PollTimeout)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		registry.RunAgentLoop(a.stop, a.Registry, a.agentMux, pollTimeout, a.onAgentEvent, a.onAgentPacket)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		registry.RunDataplaneDrainLoop(a.stop, a.Registry, a.dataplaneMux, pollTimeout, a.onDataplaneEvent)
	}()

	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown stops both drain loops and the debug server, waiting for them
// to return. It is safe to call once Run has been started.
func (a *App) Shutdown(ctx context.Context) error {
	close(a.stop)

	if a.debug != nil {
		if err := a.debug.Shutdown(); err != nil {
			logging.Warn("debugsrv_shutdown_error", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Sync()
	return nil
}

// onAgentEvent logs drained upstream-event records. There is no real
// OpenFlow controller on the other end of this process yet -- wire
// protocols are an explicit non-goal of the core -- so the agent loop's
// job here is limited to what the registry and debug surface can already
// observe: visibility, not protocol handling.
func (a *App) onAgentEvent(dpid uint64, role registry.Role, rec registry.EventRecord) {
	a.Telemetry.ElementsDrained.Inc()
	logging.Debug("agent_event_drained",
		zap.Uint64("dpid", dpid), zap.Int("role", int(role)),
		zap.String("kind", rec.Kind), zap.Uint64("seq", rec.Seq))
}

func (a *App) onAgentPacket(dpid uint64, rec registry.PacketRecord) {
	a.Telemetry.ElementsDrained.Inc()
	logging.Debug("agent_packet_drained",
		zap.Uint64("dpid", dpid), zap.Uint32("in_port", rec.InPort), zap.Int("bytes", len(rec.Data)))
}

func (a *App) onDataplaneEvent(dpid uint64, rec registry.EventRecord) {
	a.Telemetry.ElementsDrained.Inc()
	logging.Debug("dataplane_event_drained",
		zap.Uint64("dpid", dpid), zap.String("kind", rec.Kind), zap.Uint64("seq", rec.Seq))
}
