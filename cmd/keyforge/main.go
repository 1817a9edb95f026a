package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"

	"keyforge/internal/app"
	"keyforge/internal/config"
	"keyforge/internal/infrastructure"
	"keyforge/internal/keygen"
	"keyforge/internal/lifecycle"
	"keyforge/internal/store"
	"keyforge/pkg/contracts"
)

func main() {
	if err := newRootCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("keyforge failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cli.Command {
	configFlag := &cli.StringFlag{
		Sources: cli.EnvVars("KEYFORGE_CONFIG"),
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a YAML config file",
	}

	return &cli.Command{
		Name:    "keyforge",
		Usage:   "single-use license key service",
		Version: contracts.Version,
		Writer:  out,
		Flags:   []cli.Flag{configFlag},
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP service",
				Action: serve,
			},
			{
				Name:  "generate",
				Usage: "print freshly generated keys",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Value:   1,
						Usage:   "number of keys",
					},
					&cli.IntFlag{
						Name:    "length",
						Aliases: []string{"l"},
						Value:   keygen.DefaultLength,
						Usage:   "key body length",
					},
					&cli.BoolFlag{
						Name:  "save",
						Usage: "persist the keys to the configured store",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return generate(ctx, c, out)
				},
			},
			{
				Name:  "cleanup",
				Usage: "delete keys older than the given number of days",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "days",
						Aliases: []string{"d"},
						Value:   lifecycle.DefaultCleanupDays,
						Usage:   "age threshold in days",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return cleanup(ctx, c, out)
				},
			},
			{
				Name:   "migrate",
				Usage:  "apply the schema of the configured store",
				Action: migrate,
			},
		},
	}
}

// setup loads configuration and the process logger shared by every command
func setup(c *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer infrastructure.CloseLogFile()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run()
}

func generate(ctx context.Context, c *cli.Command, out io.Writer) error {
	count := int(c.Int("count"))
	if count < 1 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	gen, err := keygen.NewGenerator(int(c.Int("length")))
	if err != nil {
		return err
	}

	if !c.Bool("save") {
		for i := 0; i < count; i++ {
			fmt.Fprintln(out, gen.Generate())
		}
		return nil
	}

	engine, closeStore, err := openEngine(ctx, c, gen.Length())
	if err != nil {
		return err
	}
	defer closeStore()

	ctx = infrastructure.EnsureTraceID(ctx)
	for i := 0; i < count; i++ {
		key, err := engine.Issue(ctx)
		if err != nil {
			return fmt.Errorf("issued %d of %d keys: %w", i, count, err)
		}
		fmt.Fprintln(out, key)
	}
	return nil
}

func cleanup(ctx context.Context, c *cli.Command, out io.Writer) error {
	engine, closeStore, err := openEngine(ctx, c, 0)
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := engine.Cleanup(infrastructure.EnsureTraceID(ctx), int(c.Int("days")))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d keys\n", deleted)
	return nil
}

func migrate(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	backend, err := store.OpenBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	m, ok := backend.(store.Migrator)
	if !ok {
		logger.InfoContext(ctx, "store has no schema to migrate", slog.String("backend", cfg.Store.Backend))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.InfoContext(ctx, "store migrated", slog.String("backend", cfg.Store.Backend))
	return nil
}

// openEngine builds a lifecycle engine over the configured store. A zero
// length uses the configured key length.
func openEngine(ctx context.Context, c *cli.Command, length int) (*lifecycle.Engine, func(), error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return nil, nil, err
	}
	if length == 0 {
		length = cfg.Keys.Length
	}
	gen, err := keygen.NewGenerator(length)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(ctx, cfg.Store, logger, otel.Meter(infrastructure.MeterName))
	if err != nil {
		return nil, nil, err
	}

	engine, err := lifecycle.NewEngine(st, gen, logger, lifecycle.WithTTL(cfg.Keys.TTL))
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return engine, func() { st.Close() }, nil
}
