package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/api/server"
	"github.com/peer-mapper/trust-indexer/api/service"
	"github.com/peer-mapper/trust-indexer/cmd"
	"github.com/peer-mapper/trust-indexer/cmd/runtime/version"
	"github.com/peer-mapper/trust-indexer/config"
	"github.com/peer-mapper/trust-indexer/database"
	"github.com/peer-mapper/trust-indexer/database/store"
	"github.com/peer-mapper/trust-indexer/handshake"
	"github.com/peer-mapper/trust-indexer/overlap"
	"github.com/peer-mapper/trust-indexer/relay"
)

func main() {
	app := cli.App{
		Name:    "trust-indexer-api",
		Usage:   "serves trust profiles, qr handshakes and attestation relaying",
		Action:  exec,
		Version: version.Get(),
		Flags:   cmd.Flags,
		Before:  cmd.InitLogging,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("running api application failed", "error", err)
		os.Exit(1)
	}
}

func exec(cliCtx *cli.Context) error {
	cfg := &Config{}
	if err := config.Load(cliCtx.String(cmd.ConfigPathFlag.Name), cfg); err != nil {
		log.Fatal("reading api config failed", "error", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("initialize database error", "error", err)
	}
	s := store.New(db)

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	node, err := cmd.DialNode(ctx, cfg.Chain)
	if err != nil {
		log.Error("dial chain rpc failed", "error", err)
	}
	if node != nil {
		defer node.Close()
	}

	var relaySvc *relay.Service
	if node != nil {
		if relaySvc, err = cmd.NewRelay(ctx, cfg.Chain, cfg.Relay, node, s); err != nil {
			log.Warn("relay disabled, attest routes answer 503", "error", err)
		}
	}

	if cfg.EmbeddedListener && node != nil {
		listener, err := cmd.NewListener(cfg.Chain, node, s)
		if err != nil {
			log.Fatal("initialize listener error", "error", err)
		}
		if err := listener.Start(ctx); err != nil {
			log.Fatal("start listener error", "error", err)
		}
		defer listener.Stop()
	}

	engine := overlap.New(s, cfg.Overlap)
	hs := handshake.New(s, s, engine, cfg.Handshake)
	go hs.RunCollector(ctx)

	srv, err := server.New(cfg.Server, service.New(s, engine, hs, relaySvc))
	if err != nil {
		log.Fatal("initialize server error", "error", err)
	}

	go cmd.HandleSignals(cancel)
	return srv.Run(ctx)
}

// Config defines the config for api service.
type Config struct {
	Server           server.Config    `yaml:"server" envconfig:"server"`
	Database         database.Config  `yaml:"database" envconfig:"database"`
	Chain            config.Chain     `yaml:"chain" envconfig:"chain"`
	Overlap          overlap.Config   `yaml:"overlap" envconfig:"overlap"`
	Handshake        handshake.Config `yaml:"handshake" envconfig:"handshake"`
	Relay            relay.Config     `yaml:"relay" envconfig:"relay"`
	EmbeddedListener bool             `yaml:"embedded_listener" envconfig:"embedded_listener"`
}
