package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/postsync/internal"
	"github.com/starford/postsync/internal/sync"
	pkgconfig "github.com/starford/postsync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// openApp builds the core for one-shot commands. Logs go to stderr so
// stdout carries only the command result.
func openApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	return internal.Open(internal.WithConfig(cfg), internal.WithLogger(logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type syncOutput struct {
	Summary   string   `json:"summary"`
	Protected []string `json:"protected,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Planned   any      `json:"planned,omitempty"`
}

func runSync(full bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		app.Reconcile(ctx)

		opts := sync.Options{
			Force:  cmd.Bool("force-delete"),
			DryRun: cmd.Bool("dry-run"),
			Wait:   true,
		}
		pass := app.Service.Sync
		if full {
			pass = app.Service.ForceResync
		}
		res, err := pass(ctx, opts)
		if err != nil {
			return err
		}
		return printJSON(syncOutput{
			Summary:   res.Summary(),
			Protected: res.Protected(),
			Errors:    res.Errors(),
			Warnings:  res.Warnings(),
			Planned:   res.Planned(),
		})
	}
}

func runPublish(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: publish <document-id> [--message text]")
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Reconcile(ctx)

	res, err := app.Service.Publish(ctx, id, cmd.String("message"))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runList(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Reconcile(ctx)

	docs, err := app.Service.List(ctx, cmd.String("kind"))
	if err != nil {
		return err
	}
	for _, d := range docs {
		state := "published"
		if d.IsDraftLocal {
			state = "draft"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, state, d.UpdatedAt.Format("2006-01-02 15:04"), d.Title)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithLogger(logger))
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Usage: "Report planned changes without applying them"}
}

func main() {
	cmd := &cli.Command{
		Name:   "postsync",
		Usage:  "Sync local markdown posts with a GitHub repository and publish them as single commits",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with SSE events",
				Action: run,
			},
			{
				Name:  "sync",
				Usage: "Reconcile local posts with the remote content directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force-delete", Usage: "Delete posts missing remotely even if edited recently"},
					dryRunFlag(),
				},
				Action: runSync(false),
			},
			{
				Name:   "resync",
				Usage:  "Replace every published post with the remote version, keeping drafts",
				Flags:  []cli.Flag{dryRunFlag()},
				Action: runSync(true),
			},
			{
				Name:      "publish",
				Usage:     "Publish a document and its local images in one commit",
				ArgsUsage: "<document-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Commit message"},
				},
				Action: runPublish,
			},
			{
				Name:  "list",
				Usage: "List local documents",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "draft or published"},
				},
				Action: runList,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
