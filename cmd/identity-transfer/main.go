// Command identity-transfer migrates Sign in with Apple users between
// developer teams. phase-one records transfer identifiers before the team
// transfer; phase-two exchanges them for the receiving team's identity once
// the transfer is complete.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("identity-transfer"),
		kong.Description("Migrate Sign in with Apple users to a new developer team."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cli.Globals, os.Stdout, os.Stderr)
	kctx.FatalIfErrorf(err)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(app))
}
