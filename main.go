package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/forgeline/forge/commands"
	_ "github.com/forgeline/forge/storage/sqlite"
	"github.com/lmittmann/tint"
)

type CLI struct {
	Run      commands.Run      `cmd:"" help:"Run a pipeline"`
	Validate commands.Validate `cmd:"" help:"Validate a pipeline and print its execution plan"`
	History  commands.History  `cmd:"" help:"List recorded runs"`

	LogLevel  slog.Level `default:"info"                                  help:"Set the log level (debug, info, warn, error)"`
	AddSource bool       `help:"Add source code location to log messages"`
	LogFormat string     `default:"text"                                  enum:"text,json"                                    help:"Set the log format (text, json)"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli)

	if cli.LogFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:     cli.LogLevel,
			AddSource: cli.AddSource,
		})))
	} else {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:     cli.LogLevel,
			AddSource: cli.AddSource,
		})))
	}

	err := ctx.Run(slog.Default())

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		slog.Error("forge.exit", "code", exitErr.Code, "err", exitErr.Message)
		os.Exit(exitErr.Code)
	}

	ctx.FatalIfErrorf(err)
}
