// Package sweep runs the registry's periodic maintenance job: a
// cron-scheduled pass over every registered bridge's stats, feeding
// telemetry and logging saturation anomalies (a full queue). It is
// grounded on internal/retention's gronx-based scheduler, generalized from
// a daily purge job to a once-a-minute introspection sweep.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/lagopus-go/dpqueue/internal/logging"
	"github.com/lagopus-go/dpqueue/internal/telemetry"
	"github.com/lagopus-go/dpqueue/registry"
)

// Config controls the sweep's schedule.
type Config struct {
	Cron   string
	DryRun bool
}

// Sweeper periodically samples every registered bridge's queue stats.
type Sweeper struct {
	reg *registry.Registry
	tel *telemetry.Telemetry
	cfg Config
}

// New constructs a Sweeper. cfg.Cron must be a valid five-field cron
// expression; an empty string defaults to once a minute.
func New(reg *registry.Registry, tel *telemetry.Telemetry, cfg Config) (*Sweeper, error) {
	if cfg.Cron == "" {
		cfg.Cron = "*/1 * * * *"
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cfg.Cron)
	}
	return &Sweeper{reg: reg, tel: tel, cfg: cfg}, nil
}

// Run blocks, triggering one sweep per cron tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cfg.Cron, now, false)
		if err != nil {
			logging.Error("sweep_nexttick_failed", zap.String("cron", s.cfg.Cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
			s.runOnce()
		case <-ctx.Done():
			return
		}
	}
}

// runOnce samples every live entry's stats. An entry with any queue at zero
// remaining capacity and a nonzero size counts as an anomaly worth a
// telemetry bump and a log line; dry-run mode still samples telemetry but
// skips the anomaly check entirely. Refcounts are not inspected.
func (s *Sweeper) runOnce() {
	entries := make([]*registry.Entry, registry.MaxBridges)
	n, err := s.reg.SnapshotEntries(entries)
	if err != nil {
		return
	}
	if s.tel != nil {
		s.tel.BridgesRegistered.Set(float64(n))
	}
	defer func() {
		for _, e := range entries[:n] {
			s.reg.EntryFree(e)
		}
	}()

	for _, ent := range entries[:n] {
		st, err := s.reg.Stats(ent.DPID())
		if err != nil {
			continue
		}
		if s.tel != nil {
			s.tel.SampleEntry(st)
		}

		if s.cfg.DryRun {
			continue
		}
		if anomaly, reason := saturationAnomaly(st); anomaly {
			if s.tel != nil {
				s.tel.SweepAnomalies.Inc()
			}
			logging.Warn("sweep_anomaly",
				zap.Uint64("dpid", ent.DPID()),
				zap.String("reason", reason))
		}
	}
}

func saturationAnomaly(st registry.Stats) (bool, string) {
	switch {
	case st.UpRemaining == 0 && st.UpSize > 0:
		return true, "up_q_full"
	case st.DataRemaining == 0 && st.DataSize > 0:
		return true, "data_q_full"
	case st.DownRemaining == 0 && st.DownSize > 0:
		return true, "down_q_full"
	default:
		return false, ""
	}
}
