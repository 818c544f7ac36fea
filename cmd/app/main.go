package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/flowstate/internal"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/parser"
	pkgconfig "github.com/starford/flowstate/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Debug("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

// options loads the config and returns the options every command shares.
// Commands whose stdout carries results or a protocol log to stderr.
func options(cmd *cli.Command, stderrLogs bool) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	if stderrLogs {
		opts = append(opts, internal.WithLogOutput(os.Stderr))
	}
	return opts, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, false)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, true)
	if err != nil {
		return err
	}
	n, err := internal.Reindex(ctx, opts...)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"ok": true, "count": n})
}

func importVault(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, true)
	if err != nil {
		return err
	}
	rep, err := internal.ImportVault(ctx, cmd.String("dir"), opts...)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"created":    rep.Created,
		"duplicates": rep.Duplicates,
		"invalid":    rep.Invalid,
	})
}

func exportVault(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, true)
	if err != nil {
		return err
	}
	rep, err := internal.ExportVault(ctx, cmd.String("dir"), opts...)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"written": rep.Written, "unchanged": rep.Unchanged})
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, true)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

// noteInput builds the write payload from --file (Markdown with optional
// frontmatter) or from --title/--content/--tags. --slug applies to both.
func noteInput(cmd *cli.Command) (models.NoteInput, error) {
	var in models.NoteInput
	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return in, err
		}
		in = parser.ParseFile(path, data).Input()
	} else {
		in = models.NoteInput{
			Title:   cmd.String("title"),
			Content: cmd.String("content"),
			Tags:    cmd.String("tags"),
		}
	}
	if s := cmd.String("slug"); s != "" {
		in.Slug = s
	}
	return in, nil
}

func withClient(cmd *cli.Command, fn func(c *internal.ClientApp) error) error {
	opts, err := options(cmd, true)
	if err != nil {
		return err
	}
	c, err := internal.OpenClient(opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func noteIDArg(cmd *cli.Command) (int64, error) {
	id, err := strconv.ParseInt(cmd.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("expected a note id, got %q", cmd.Args().First())
	}
	return id, nil
}

func clientCreate(ctx context.Context, cmd *cli.Command) error {
	in, err := noteInput(cmd)
	if err != nil {
		return err
	}
	return withClient(cmd, func(c *internal.ClientApp) error {
		res, err := c.Create(ctx, in)
		if err != nil {
			return err
		}
		if res.Queued {
			return printJSON(map[string]any{"queued": true, "seq": res.Entry.Seq})
		}
		return printJSON(res.Created)
	})
}

func clientUpdate(ctx context.Context, cmd *cli.Command) error {
	id, err := noteIDArg(cmd)
	if err != nil {
		return err
	}
	in, err := noteInput(cmd)
	if err != nil {
		return err
	}
	return withClient(cmd, func(c *internal.ClientApp) error {
		res, err := c.Update(ctx, id, in, cmd.String("if-match"))
		if err != nil {
			return err
		}
		if res.Queued {
			return printJSON(map[string]any{"queued": true, "seq": res.Entry.Seq})
		}
		return printJSON(res.Updated)
	})
}

func clientGet(ctx context.Context, cmd *cli.Command) error {
	id, err := noteIDArg(cmd)
	if err != nil {
		return err
	}
	return withClient(cmd, func(c *internal.ClientApp) error {
		d, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(d)
	})
}

func clientSync(ctx context.Context, cmd *cli.Command) error {
	return withClient(cmd, func(c *internal.ClientApp) error {
		if cmd.Bool("watch") {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.Watch(ctx)
		}
		rep, err := c.Sync(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"applied":   rep.Applied,
			"rejected":  rep.Rejected,
			"remaining": rep.Remaining,
		})
	})
}

func outboxList(ctx context.Context, cmd *cli.Command) error {
	return withClient(cmd, func(c *internal.ClientApp) error {
		entries, err := c.Pending(ctx)
		if err != nil {
			return err
		}
		return printJSON(entries)
	})
}

func outboxDiscard(ctx context.Context, cmd *cli.Command) error {
	seq, err := strconv.ParseInt(cmd.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("expected an outbox seq, got %q", cmd.Args().First())
	}
	return withClient(cmd, func(c *internal.ClientApp) error {
		return c.Discard(ctx, seq)
	})
}

func noteFlags(withIfMatch bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "title", Usage: "Note title"},
		&cli.StringFlag{Name: "content", Usage: "Note body (Markdown)"},
		&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
		&cli.StringFlag{Name: "slug", Usage: "Requested slug"},
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read the note from a Markdown file with optional frontmatter"},
	}
	if withIfMatch {
		flags = append(flags, &cli.StringFlag{
			Name:     "if-match",
			Usage:    `Version the edit is based on, e.g. "v3"`,
			Required: true,
		})
	}
	return flags
}

func main() {
	cmd := &cli.Command{
		Name:    "flowstate",
		Usage:   "Versioned note store with similarity links and an offline-first client",
		Version: version,
		Action:  serve,
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
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:   "reindex",
				Usage:  "Recompute similarity links for every note",
				Action: reindex,
			},
			{
				Name:  "import",
				Usage: "Create notes from a directory of Markdown files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Vault directory", Required: true},
				},
				Action: importVault,
			},
			{
				Name:  "export",
				Usage: "Write every note to a directory as Markdown with frontmatter",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Target directory", Required: true},
				},
				Action: exportVault,
			},
			{
				Name:   "mcp",
				Usage:  "Serve note tools to an MCP client over stdio",
				Action: serveMCP,
			},
			{
				Name:  "client",
				Usage: "Write to a FlowState server, queueing while it is unreachable",
				Commands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create a note",
						Flags:  noteFlags(false),
						Action: clientCreate,
					},
					{
						Name:      "update",
						Usage:     "Update a note",
						ArgsUsage: "<id>",
						Flags:     noteFlags(true),
						Action:    clientUpdate,
					},
					{
						Name:      "get",
						Usage:     "Fetch a note with its etag",
						ArgsUsage: "<id>",
						Action:    clientGet,
					},
					{
						Name:  "sync",
						Usage: "Replay queued writes",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Keep running and sync whenever the server is reachable"},
						},
						Action: clientSync,
					},
					{
						Name:  "outbox",
						Usage: "Inspect queued writes",
						Commands: []*cli.Command{
							{
								Name:   "list",
								Usage:  "List queued writes, oldest first",
								Action: outboxList,
							},
							{
								Name:      "discard",
								Usage:     "Drop a queued write",
								ArgsUsage: "<seq>",
								Action:    outboxDiscard,
							},
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
