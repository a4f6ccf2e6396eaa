package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/pipeline-console/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login     commands.LoginCmd     `cmd:"" help:"Sign in to the console API"`
		MFA       commands.MFACmd       `cmd:"" name:"mfa" help:"Complete a pending multi-factor sign in"`
		Logout    commands.LogoutCmd    `cmd:"" help:"Sign out and forget stored tokens"`
		Whoami    commands.WhoamiCmd    `cmd:"" help:"Show the signed in user and permissions"`
		Refresh   commands.RefreshCmd   `cmd:"" help:"Refresh the stored access token"`
		Token     commands.TokenCmd     `cmd:"" help:"Print the current access token"`
		Can       commands.CanCmd       `cmd:"" help:"Check whether the signed in user holds a permission"`
		Pipelines commands.PipelinesCmd `cmd:"" help:"List and run pipelines"`
		Alerts    commands.AlertsCmd    `cmd:"" help:"List and acknowledge alerts"`
		Get       commands.GetCmd       `cmd:"" help:"GET an API path and print the response data"`

		Debug     bool   `help:"Enable debug mode."`
		Config    string `help:"Path to the config file." type:"path" env:"CONSOLE_CONFIG"`
		APIURL    string `help:"API base URL, overrides configuration." name:"api-url"`
		Telemetry bool   `help:"Export traces and metrics over OTLP." env:"CONSOLE_TELEMETRY"`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("console-cli"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		ConfigPath: cli.Config,
		APIURL:     cli.APIURL,
		Telemetry:  cli.Telemetry,
	})
	cmd.FatalIfErrorf(err)
}
