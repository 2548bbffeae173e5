package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/certpatrol/patrolmgr"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	projectFlags := &ProjectFlags{}
	searchFlags := &SearchFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	statusFlags := &StatusFlags{}
	resultsFlags := &ResultsFlags{}
	serveFlags := &ServeFlags{}

	cmd := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createProjectCommand(cmd, projectFlags),
		createSearchCommand(cmd, searchFlags),
		createStartCommand(cmd, startFlags),
		createStopCommand(cmd, stopFlags),
		createStatusCommand(cmd, statusFlags),
		createResultsCommand(cmd, resultsFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "patrolmgr",
		Short: "Certificate transparency search orchestration",
		Long: `Patrolmgr manages certpatrol worker processes: it starts and stops
searches, caps how many run at once, captures the domains each worker
discovers and keeps every search's lifecycle status.

Examples:
  patrolmgr serve --config=config.toml
  patrolmgr search create --project=1 --name=acme --pattern='.*acme.*'
  patrolmgr start --id=3
  patrolmgr status`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 15*time.Second, "request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the patrolmgr daemon",
		Long: `Start the daemon that supervises certpatrol workers and serves the
HTTP API. Configuration comes from a TOML file plus environment
overrides (MANAGER_LISTEN, MAX_CONCURRENT_SEARCHES, CERTPATROL_CMD,
DATABASE_PATH); with no file the built-in defaults apply.

Examples:
  patrolmgr serve
  patrolmgr serve config.toml
  MAX_CONCURRENT_SEARCHES=5 patrolmgr serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(serveFlags)
		},
	}
}

func runServe(flags *ServeFlags) error {
	cfg, err := patrolmgr.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	engine, err := patrolmgr.Open(cfg)
	if err != nil {
		return err
	}

	server := engine.Serve(cfg.Listen, cfg.BasePath)
	fmt.Printf("Starting patrolmgr server on %s%s (max %d concurrent searches)\n",
		cfg.Listen, cfg.BasePath, cfg.MaxConcurrent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopWait+30*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return engine.Close(shutdownCtx)
}

func createProjectCommand(cmd command, flags *ProjectFlags) *cobra.Command {
	project := &cobra.Command{
		Use:   "project",
		Short: "Project management commands",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.ProjectCreate(*flags)
		},
	}
	create.Flags().StringVar(&flags.Name, "name", "", "project name (required)")
	create.Flags().StringVar(&flags.Description, "description", "", "project description")
	mustMarkRequired(create, "name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.ProjectList(*flags)
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.ProjectDelete(*flags)
		},
	}
	del.Flags().Int64Var(&flags.ID, "id", 0, "project id (required)")
	mustMarkRequired(del, "id")

	project.AddCommand(create, list, del)
	return project
}

func createSearchCommand(cmd command, flags *SearchFlags) *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search management commands",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a search",
		Long: `Create a search inside a project. The pattern is a regular expression
matched against certificate domains by the certpatrol worker.

Examples:
  patrolmgr search create --project=1 --name=acme --pattern='.*\.acme\.com'
  patrolmgr search create --project=1 --name=wide --pattern=acme --etld1 --batch=512`,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.SearchCreate(*flags)
		},
	}
	create.Flags().Int64Var(&flags.ProjectID, "project", 0, "project id (required)")
	create.Flags().StringVar(&flags.Name, "name", "", "search name (required)")
	create.Flags().StringVar(&flags.Pattern, "pattern", "", "domain match pattern (required)")
	create.Flags().IntVar(&flags.BatchSize, "batch", 0, "certificates per poll batch")
	create.Flags().Float64Var(&flags.PollSleep, "poll-sleep", 0, "seconds between polls")
	create.Flags().Float64Var(&flags.PollMin, "poll-min", 0, "minimum poll backoff seconds")
	create.Flags().Float64Var(&flags.PollMax, "poll-max", 0, "maximum poll backoff seconds")
	create.Flags().IntVar(&flags.MaxMemoryMB, "max-memory", 0, "worker memory cap in MB")
	create.Flags().BoolVar(&flags.ETLD1, "etld1", false, "reduce matches to registrable domains")
	create.Flags().StringSliceVar(&flags.CTLogs, "ct-log", nil, "CT log to monitor (repeatable)")
	mustMarkRequired(create, "project")
	mustMarkRequired(create, "name")
	mustMarkRequired(create, "pattern")

	list := &cobra.Command{
		Use:   "list",
		Short: "List a project's searches",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.SearchList(*flags)
		},
	}
	list.Flags().Int64Var(&flags.ProjectID, "project", 0, "project id (required)")
	mustMarkRequired(list, "project")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a search and its results",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.SearchDelete(*flags)
		},
	}
	del.Flags().Int64Var(&flags.ID, "id", 0, "search id (required)")
	mustMarkRequired(del, "id")

	searchCmd.AddCommand(create, list, del)
	return searchCmd
}

func createStartCommand(cmd command, flags *StartFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Start a search's worker process",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Start(*flags)
		},
	}
	c.Flags().Int64Var(&flags.ID, "id", 0, "search id (required)")
	mustMarkRequired(c, "id")
	return c
}

func createStopCommand(cmd command, flags *StopFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "stop",
		Short: "Stop a search's worker process",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Stop(*flags)
		},
	}
	c.Flags().Int64Var(&flags.ID, "id", 0, "search id (required)")
	c.Flags().DurationVar(&flags.Wait, "wait", 0, "grace period before forced kill (daemon default if unset)")
	mustMarkRequired(c, "id")
	return c
}

func createStatusCommand(cmd command, flags *StatusFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Show search status",
		Long: `Show the status of one search (--id) or of every search the daemon
knows about.`,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Status(*flags)
		},
	}
	c.Flags().Int64Var(&flags.ID, "id", 0, "search id (all searches if omitted)")
	return c
}

func createResultsCommand(cmd command, flags *ResultsFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "results",
		Short: "Show discovered domains",
		RunE: func(c *cobra.Command, args []string) error {
			if !flags.Recent && flags.ID <= 0 {
				return fmt.Errorf("results requires --id or --recent")
			}
			return cmd.Results(*flags)
		},
	}
	c.Flags().Int64Var(&flags.ID, "id", 0, "search id")
	c.Flags().IntVar(&flags.Limit, "limit", 100, "maximum rows to return")
	c.Flags().IntVar(&flags.Offset, "offset", 0, "rows to skip")
	c.Flags().BoolVar(&flags.Recent, "recent", false, "latest results across all searches")
	return c
}

func mustMarkRequired(c *cobra.Command, name string) {
	if err := c.MarkFlagRequired(name); err != nil {
		panic(err)
	}
}
