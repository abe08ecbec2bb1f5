// Package banner prints the agent's startup banner, adapted from the
// teacher's pkg/banner: an ASCII word-mark (this program's own) plus an
// effective-config summary,
// rescoped from HTTP API endpoints to the debug surface and queue
// defaults this agent actually exposes.
package banner

import (
	"fmt"

	"github.com/lagopus-go/dpqueue/internal/config"
)

const art = `
      _
     | |
   __| |_ __   __ _ _   _  ___ _   _  ___
  / _` + "`" + ` | '_ \ / _` + "`" + ` | | | |/ _ \ | | |/ _ \
 | (_| | |_) | (_| | |_| |  __/ |_| |  __/
  \__,_| .__/ \__, |\__,_|\___|\__,_|\___|
       | |       | |
       |_|       |_|
`

// Print writes the banner and a summary of the effective configuration.
func Print(version string, cfg *config.Config, source string) {
	fmt.Print(art)
	fmt.Println("== Config =====================================================")
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config:    %s\n", source)
	if cfg.Debug.Enabled {
		fmt.Printf("Debug:     http://%s (bridges, metrics, swagger)\n", cfg.Debug.Address)
	} else {
		fmt.Println("Debug:     disabled")
	}
	fmt.Printf("Sweep:     enabled=%v cron=%q dry_run=%v\n", cfg.Sweep.Enabled, cfg.Sweep.Cron, cfg.Sweep.DryRun)
	fmt.Printf("Registration burst: %d/s\n", cfg.Registry.RegistrationBurst)
	fmt.Println("\n== Queue defaults =============================================")
	fmt.Printf("up_q:   capacity=%d max_batch=%d\n", cfg.Registry.UpCapacity, cfg.Registry.UpMaxBatch)
	fmt.Printf("data_q: capacity=%d max_batch=%d\n", cfg.Registry.DataCapacity, cfg.Registry.DataMaxBatch)
	fmt.Printf("down_q: capacity=%d max_batch=%d\n", cfg.Registry.DownCapacity, cfg.Registry.DownMaxBatch)
	fmt.Println()
}
