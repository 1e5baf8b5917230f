package main

import (
	"errors"
	"io/fs"

	"github.com/alecthomas/kong"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	// DUTCTL_* variables from .env feed logging and kong env defaults.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("dutctl: ignoring unreadable .env")
	}
	observability.InitLogger("dutctl")

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dutctl"),
		kong.Description("Control a secure-chip DUT through hardware or an emulator."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
