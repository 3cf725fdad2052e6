package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/forgeline/forge/storage"
)

type History struct {
	Storage   string `default:"sqlite://forge.db" help:"Run-history storage DSN"`
	Namespace string `default:""                  help:"Pipeline name to scope the listing to"`
}

func (c *History) Run(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	initStorage, found := storage.GetFromDSN(c.Storage)
	if !found {
		return fmt.Errorf("could not get storage driver: %w", errors.ErrUnsupported)
	}

	store, err := initStorage(c.Storage, c.Namespace, logger)
	if err != nil {
		return fmt.Errorf("could not create storage client: %w", err)
	}
	defer func() { _ = store.Close() }()

	// An empty namespace lists runs across every pipeline.
	prefix := "runs/"
	if c.Namespace == "" {
		prefix = ""
	}

	results, err := store.GetAll(context.Background(), prefix, []string{"status", "elapsed", "exit_code", "started_at"})
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	printed := 0

	for _, result := range results {
		if strings.Contains(result.Path, "/steps/") {
			continue
		}

		printed++
		line := result.Path

		if status, ok := result.Payload["status"].(string); ok && status != "" {
			line += "\t" + status
		}

		if elapsed, ok := result.Payload["elapsed"].(string); ok && elapsed != "" {
			line += "\t" + elapsed
		}

		fmt.Fprintln(os.Stdout, line)
	}

	if printed == 0 {
		fmt.Fprintln(os.Stdout, "no recorded runs")
	}

	return nil
}
