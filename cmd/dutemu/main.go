// Command dutemu is a software stand-in for the secure chip. It serves the
// control protocol and a loopback console and is normally spawned by the
// ti50emulator backend rather than run by hand.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/danmuck/dutctl/internal/emulator"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var version = "dev"

type CLI struct {
	Path          string           `required:"" type:"existingdir" help:"Runtime directory; the control socket lives in its parent."`
	ControlSocket string           `name:"control_socket" help:"Socket to announce readiness on."`
	ReadyToken    string           `name:"ready_token" default:"READY" help:"Token written to the readiness socket."`
	Flash         string           `help:"Flash image."`
	Apps          []string         `help:"Application images." sep:","`
	VersionState  string           `name:"version_state" help:"Version state file."`
	PmuState      bool             `name:"pmu_state" help:"Restore the saved PMU state."`
	Version       kong.VersionFlag `help:"Show version and exit."`
}

func (c *CLI) Run() error {
	cfg := emulator.DefaultConfig()
	cfg.Path = c.Path
	cfg.ControlSocket = c.ControlSocket
	cfg.ReadyToken = c.ReadyToken

	log.Info().
		Str("path", c.Path).
		Str("flash", c.Flash).
		Strs("apps", c.Apps).
		Str("version_state", c.VersionState).
		Bool("pmu_state", c.PmuState).
		Msg("dutemu starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return emulator.New(cfg).Run(ctx)
}

func main() {
	observability.InitLogger("dutemu")

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dutemu"),
		kong.Description("Emulated secure-chip DUT."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(); err != nil {
		log.Error().Err(err).Msg("dutemu exited")
		os.Exit(1)
	}
}
