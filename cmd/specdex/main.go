package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/specdex/internal"
	pkgconfig "github.com/starford/specdex/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if ws := cmd.String("workspace"); ws != "" {
		cfg.Workspace.Path = ws
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if cmd.Bool("no-watch") {
		cfg.Watch.Enabled = false
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithVersion(version),
		internal.WithLogOutput(os.Stderr),
	)
}

func check(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Watch.Enabled = false
	err = internal.Check(ctx, os.Stdout, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if errors.Is(err, internal.ErrValidationFailed) {
		return cli.Exit(err.Error(), 2)
	}
	return err
}

func search(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return cli.Exit("search: query argument is required", 1)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Watch.Enabled = false
	return internal.Search(ctx, os.Stdout, cmd.Args().First(), int(cmd.Int("limit")), cmd.Bool("bodies"),
		internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func main() {
	cmd := &cli.Command{
		Name:    "specdex",
		Usage:   "Index requirements, components and tasks written in Markdown and keep their cross-references live",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "specdex.yaml",
				Value:       "specdex.yaml",
				Sources:     cli.EnvVars("SPECDEX_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace directory (overrides config)",
				Sources: cli.EnvVars("SPECDEX_WORKSPACE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and event stream, watching the workspace for changes",
				Action: serve,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port (overrides config)"},
					&cli.BoolFlag{Name: "no-watch", Usage: "Do not watch the workspace"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:   "check",
				Usage:  "Print validation issues; exit status 2 when any is an error",
				Action: check,
			},
			{
				Name:      "search",
				Usage:     "Search elements by identifier and title",
				ArgsUsage: "<query>",
				Action:    search,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max results"},
					&cli.BoolFlag{Name: "bodies", Usage: "Search element bodies through the full-text mirror"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
