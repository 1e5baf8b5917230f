package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/dutctl/internal/admin"
	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/danmuck/dutctl/internal/transport/ti50"
	"github.com/danmuck/dutctl/internal/transport/ti50emulator"
	"github.com/rs/zerolog/log"
)

type RunCmd struct {
	PowerFlags `embed:""`
	NoStart    bool   `name:"no-start" help:"Serve without powering the emulator on."`
	Listen     string `help:"Override admin.listen."`
}

func (r *RunCmd) Run(cli *CLI) error {
	cfg, tr, err := cli.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.Error().Err(err).Msg("dutctl: backend close failed")
		}
	}()
	if r.Listen != "" {
		cfg.Admin.Listen = r.Listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := instanceName(cfg, tr)
	defaults, err := cfg.Ti50Emulator.StartArgs()
	if err != nil {
		return err
	}
	started := false
	if tr.Capabilities().Has(transport.CapEmulator) && !r.NoStart {
		emu, err := tr.Emulator()
		if err != nil {
			return err
		}
		args, err := r.startArgs(cfg)
		if err != nil {
			return err
		}
		if err := emu.Start(r.FactoryReset, args); err != nil {
			return err
		}
		started = true
		defer func() {
			if err := emu.Stop(); err != nil {
				log.Warn().Err(err).Msg("dutctl: stop on shutdown failed")
			}
		}()
	}
	if emuTr, ok := tr.(*ti50emulator.Transport); ok {
		fmt.Printf("instance %s socket %s\n", name, emuTr.Session().ChannelPath())
	}
	log.Info().Str("instance", name).Str("backend", cfg.Backend).Bool("started", started).Msg("dutctl running")

	return admin.New(name, tr, cfg.Admin, defaults).Serve(ctx)
}

func instanceName(cfg config.Config, tr transport.Transport) string {
	switch t := tr.(type) {
	case *ti50emulator.Transport:
		return t.Session().Name()
	case *ti50.Transport:
		return t.Instance()
	default:
		return cfg.Backend
	}
}
