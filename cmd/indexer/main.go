package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/cmd"
	"github.com/peer-mapper/trust-indexer/cmd/runtime/version"
	"github.com/peer-mapper/trust-indexer/config"
	"github.com/peer-mapper/trust-indexer/database"
	"github.com/peer-mapper/trust-indexer/database/store"
)

func main() {
	app := cli.App{
		Name:    "trust-indexer",
		Usage:   "follows attestation events into the canonical store",
		Action:  exec,
		Version: version.Get(),
		Flags:   cmd.Flags,
		Before:  cmd.InitLogging,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("running application failed", "error", err)
		os.Exit(1)
	}
}

func exec(ctx *cli.Context) error {
	cfg := &Config{}
	if err := config.Load(ctx.String(cmd.ConfigPathFlag.Name), cfg); err != nil {
		log.Fatal("fail on read config", "error", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("initialize database error", "error", err)
	}

	node, err := cmd.DialNode(ctx.Context, cfg.Chain)
	if err != nil {
		log.Fatal("dial chain rpc error", "error", err)
	}
	if node == nil {
		log.Warn("listener disabled, nothing to index")
		return nil
	}
	defer node.Close()

	listener, err := cmd.NewListener(cfg.Chain, node, store.New(db))
	if err != nil {
		log.Fatal("initialize listener error", "error", err)
	}

	done := make(chan struct{})
	go cmd.HandleSignals(func() {
		listener.Stop()
		close(done)
	})

	if err := listener.Start(ctx.Context); err != nil {
		log.Fatal("start listener error", "error", err)
	}
	<-done

	log.Info("listener stopped",
		"applied", listener.Applied(),
		"skipped", listener.SkippedLogs(),
		"anchorFallbacks", listener.AnchorFallbacks(),
	)
	return nil
}

// Config defines the config for indexer service.
type Config struct {
	Database database.Config `yaml:"database" envconfig:"database"`
	Chain    config.Chain    `yaml:"chain" envconfig:"chain"`
}
