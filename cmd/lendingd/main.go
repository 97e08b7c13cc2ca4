package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/wispberry-tech/wispy-lending/cmd/lendingd/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Dev     bool             `help:"Development mode: text logs at debug level." env:"LENDING_DEV"`
		Version kong.VersionFlag `help:"Print the version and exit."`

		Serve         commands.ServeCmd         `cmd:"" help:"Run the lending API server."`
		Migrate       commands.MigrateCmd       `cmd:"" help:"Apply database migrations and exit."`
		CreateAdmin   commands.CreateAdminCmd   `cmd:"" help:"Create an administrator or promote an existing member."`
		SweepSessions commands.SweepSessionsCmd `cmd:"" help:"Delete expired sessions, reset tokens and OAuth states."`
	}
)

func main() {
	// A missing .env file is fine; the environment may be set elsewhere
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("lendingd"),
		kong.Description("Community book lending service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	commands.SetupLogger(cli.Dev)
	err := cmd.Run(&commands.Globals{Dev: cli.Dev, Version: version})
	cmd.FatalIfErrorf(err)
}
