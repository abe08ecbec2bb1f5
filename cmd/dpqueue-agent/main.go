// Command dpqueue-agent starts the bridge-queue registry, its optional
// debug HTTP surface, the maintenance sweep, and the agent/dataplane
// drain loops, adapted from the teacher's cmd/progressdb/main.go flag and
// signal-handling shape with the store/security/KMS setup it did for a
// message-store process removed.
package main

import (
	"context"

	"github.com/lagopus-go/dpqueue/internal/app"
	"github.com/lagopus-go/dpqueue/internal/config"
	"github.com/lagopus-go/dpqueue/internal/logging"
	"github.com/lagopus-go/dpqueue/internal/shutdown"
)

// Build metadata, set via -ldflags at release time.
var (
	version = "dev"
)

func main() {
	flags := config.ParseFlags()
	path := config.ResolveConfigPath(flags.Config, flags.Set["config"])

	cfg, err := config.Load(path)
	if err != nil {
		shutdown.Fatal("load config", err, 0)
	}
	usedEnv := config.ApplyEnv(cfg, flags)

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Sink); err != nil {
		shutdown.Fatal("init logging", err, 0)
	}
	defer logging.Sync()

	source := "config:" + path
	if usedEnv {
		source += "+env"
	}

	app.Version = version

	a, err := app.New(cfg, source)
	if err != nil {
		shutdown.Fatal("build app", err, 2)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Fatal("run", err, 2)
	}
}
