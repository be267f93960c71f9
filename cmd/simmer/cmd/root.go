package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/simmerhq/simmer"
	"github.com/simmerhq/simmer/internal/config"
	"github.com/simmerhq/simmer/internal/logging"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"

	// Global flags.
	configPath string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "simmer",
	Short: "Simmer - declarative recipe sessions",
	Long: `Simmer runs YAML recipes: graphs of agent and shell steps over a shared
context, with dependency ordering, conditions, foreach loops, retries and
checkpoint/resume.

Sessions persist to SQLite when a database path is configured, so an
interrupted or failed session can be resumed later with 'simmer resume'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("simmer {{.Version}}\n")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	return cfg, nil
}

// buildEngine assembles an engine from the effective configuration. The
// returned cleanup closes the database connection, if any.
func buildEngine(cfg *config.Config) (simmer.Engine, *slog.Logger, func(), error) {
	logger := logging.NewFromConfig(cfg)

	caps := simmer.DefaultCapabilities()
	if len(cfg.Agent.Command) > 0 {
		agent, err := simmer.CommandAgent(cfg.Agent.Command...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("configuring agent: %w", err)
		}
		caps.Agent = agent
	}

	opts := []simmer.EngineOption{
		simmer.WithObserver(simmer.NewLoggingObserver(logger)),
		simmer.WithDefaultShell(cfg.Shell),
		simmer.WithMaxOutputSize(cfg.MaxOutputSize),
	}

	if cfg.DBPath == "" {
		return simmer.NewInMemoryEngine(caps, opts...), logger, func() {}, nil
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}
	eng, err := simmer.NewSQLiteEngine(db, caps, opts...)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return eng, logger, func() { db.Close() }, nil
}
