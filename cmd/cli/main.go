package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/cmd/cli/internal/commands"
	"github.com/wolfeidau/brandpilot/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Init      commands.InitCmd      `cmd:"" help:"Write the CLI config file"`
		Plans     commands.PlansCmd     `cmd:"" help:"Show the plan table"`
		Reconcile commands.ReconcileCmd `cmd:"" help:"Trigger a reconciliation sweep on the server"`
		Debug     bool                  `help:"Enable debug mode."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("brandpilot"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	log.Logger = logger.Setup(cli.Debug)
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
