// Package main is the entrypoint for epics-mcp-bridge (binary name "epics-bridge").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/epics-mcp-bridge/internal/config"
	"github.com/morezero/epics-mcp-bridge/internal/server"
	"github.com/morezero/epics-mcp-bridge/pkg/db"
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
	"github.com/morezero/epics-mcp-bridge/pkg/registry"
)

const defaultTestDB = "epics_bridge_test"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "epics-bridge: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "epics-bridge",
		Short: "Expose EPICS process variables as MCP tools",
		Long: `epics-bridge serves read-value, write-value and describe tools over MCP stdio,
MCP SSE or COMMS request/reply. Configuration comes from the environment
(BRIDGE_TRANSPORT, EPICS_CA_BACKEND, COMMS_URL, DATABASE_URL, ...) and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// serve is the default
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), "", stdin, stdout)
		},
	}
	root.SetOut(stdout)

	root.AddCommand(
		newServeCmd(stdin, stdout),
		newToolsCmd(),
		newCallCmd(),
		newMigrateCmd(),
		newEnsureDBCmd(),
		newClearCmd(),
		newPruneCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var transport string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge on the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport, stdin, stdout)
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "Transport override: stdio, sse or nats (default BRIDGE_TRANSPORT)")
	return cmd
}

func runServe(ctx context.Context, transport string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if transport != "" {
		cfg.Transport = transport
	}
	return server.Run(ctx, cfg, stdin, stdout)
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools := dispatcher.NewDispatcher(dispatcher.Params{}).ListOperations()
			return printTools(cmd.OutOrStdout(), tools, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON with input schemas")
	return cmd
}

func printTools(w io.Writer, tools []dispatcher.ToolDescription, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"tools": tools})
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tARGUMENTS\tDESCRIPTION")
	for _, td := range tools {
		required, _ := td.InputSchema["required"].([]string)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", td.Name, strings.Join(required, ","), firstLine(td.Description))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newCallCmd() *cobra.Command {
	var rawJSON string
	cmd := &cobra.Command{
		Use:   "call <tool> [key=value ...]",
		Short: "Run one tool call and print the result envelope",
		Example: `  epics-bridge call read-value pv_name=temperature:water
  epics-bridge call write-value pv_name=valve:inlet:state pv_value=OPEN
  epics-bridge call describe --args '{"pv_name":"pump:speed:rpm"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArguments(args[1:], rawJSON)
			if err != nil {
				return err
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), args[0], arguments)
		},
	}
	cmd.Flags().StringVar(&rawJSON, "args", "", "Arguments as a JSON object; key=value pairs override its fields")
	return cmd
}

// parseArguments merges an optional JSON object with key=value pairs. Values
// from pairs are always strings.
func parseArguments(pairs []string, rawJSON string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &args); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
		if args == nil {
			args = make(map[string]any, len(pairs))
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q must be key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

func runCall(ctx context.Context, w io.Writer, tool string, args map[string]any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.Dispatcher().Call(ctx, dispatcher.NewInvocation(tool, args, dispatcher.TransportCLI))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, result.Text())
	if !result.OK() {
		return fmt.Errorf("%s failed", tool)
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit journal schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrateUp(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrateStatus(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func newEnsureDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db [name]",
		Short: "Create the database on the DATABASE_URL host if missing (default " + defaultTestDB + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := defaultTestDB
			if len(args) == 1 && args[0] != "" {
				name = args[0]
			}
			return runEnsureDB(cmd.Context(), cmd.OutOrStdout(), name)
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Truncate the invocation journal; schema is preserved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				return db.ClearInvocations(ctx, pool)
			})
		},
	}
}

func newPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal rows older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				n, err := db.PruneInvocations(ctx, pool, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d invocations.\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep rows newer than this many days")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridge version and capability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "epics-bridge %s (%s, %d tools)\n",
				cfg.Version, dispatcher.Capability, registry.Default().Len())
			return nil
		},
	}
}

// loadConfig loads configuration and installs logging on stderr.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := server.SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context) error {
	return withPool(ctx, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		files, err := db.LoadMigrationFiles(db.ResolveMigrationPath(cfg.MigrationPath))
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, files); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus(ctx context.Context, w io.Writer) error {
	return withPool(ctx, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		report, err := db.MigrationStatus(ctx, pool, db.ResolveMigrationPath(cfg.MigrationPath))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, report.String())
		return nil
	})
}

func runEnsureDB(ctx context.Context, w io.Writer, name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	targetURL, err := db.WithDatabase(cfg.DatabaseURL, name)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(ctx, targetURL); err != nil {
		return err
	}
	fmt.Fprintf(w, "Database %q is ready.\n", name)
	return nil
}
