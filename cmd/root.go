package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"convoprobe/internal/color"
	"convoprobe/internal/config"
	"convoprobe/internal/results"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

// Exit codes returned by the CLI.
const (
	ExitPass        = 0
	ExitFail        = 1
	ExitConfigError = 2
	ExitAborted     = 3
)

// exitError carries a specific process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	storage    string
	scenarios  string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "convoprobe",
		Short: "Goal-oriented conversation tests for booking agents",
		Long: `convoprobe plays a synthetic caller against a conversational booking agent
and scores the conversation against the goals of a scenario: what the agent
must ask, which tools it must invoke and what it must never say.

Each run is persisted with its full transcript, so failures can be inspected
after the fact with "convoprobe results show".`,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// handled by us (e.g. failing runs, bad configuration)
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return configError(err)
	})

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Explicit config file, layered over user and project config")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text, json); overrides config")
	cmd.PersistentFlags().StringVar(&g.storage, "storage", "", `Results database path, or "memory"; overrides config`)
	cmd.PersistentFlags().StringVar(&g.scenarios, "scenarios", "", "Additional scenario file or directory; overrides config")

	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newScenariosCmd(g))
	cmd.AddCommand(newResultsCmd(g))
	cmd.AddCommand(newMockAgentCmd(g))
	cmd.AddCommand(newChatCmd(g))
	cmd.AddCommand(newMCPCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd.SetVersionTemplate(`{{printf "convoprobe version %s\n" .Version}}`)
	return execute(rootCmd)
}

func execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return ExitPass
	}
	code := exitCode(err)
	// Run verdicts are already reported; only surface real errors.
	var ee *exitError
	if !errors.As(err, &ee) || ee.code == ExitConfigError {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return code
}

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return ExitPass
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, scenario.ErrInvalid),
		errors.Is(err, scenario.ErrNotFound):
		return ExitConfigError
	}
	return ExitFail
}

// configError marks err as a configuration problem.
func configError(err error) error {
	return &exitError{code: ExitConfigError, err: err}
}

// setup loads configuration, applies flag overrides and initialises logging.
func (g *globalOptions) setup(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return config.Config{}, configError(err)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if g.storage != "" {
		cfg.Storage = g.storage
	}
	if g.scenarios != "" {
		cfg.Scenarios = g.scenarios
	}

	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		return config.Config{}, configError(fmt.Errorf("%w: unknown log level %q", config.ErrInvalid, cfg.LogLevel))
	}
	format, ok := logging.ParseFormat(cfg.LogFormat)
	if !ok {
		return config.Config{}, configError(fmt.Errorf("%w: unknown log format %q", config.ErrInvalid, cfg.LogFormat))
	}
	if !color.ApplyTheme(cfg.Theme) {
		return config.Config{}, configError(fmt.Errorf("%w: unknown theme %q", config.ErrInvalid, cfg.Theme))
	}
	logging.Init(level, cmd.ErrOrStderr(), format)
	return cfg, nil
}

// catalog returns the builtin scenarios plus any configured scenario files.
func catalog(cfg config.Config) (scenario.Catalog, error) {
	all, err := scenario.LoadBuiltin()
	if err != nil {
		return nil, err
	}
	if cfg.Scenarios != "" {
		extra, err := scenario.LoadScenarios(cfg.Scenarios)
		if err != nil {
			return nil, configError(err)
		}
		all = append(all, extra...)
	}
	c, err := scenario.NewCatalog(all)
	if err != nil {
		return nil, configError(err)
	}
	return c, nil
}

// openRepository opens the configured results store, creating its directory.
func openRepository(cfg config.Config) (results.Repository, error) {
	if cfg.Storage != "memory" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	repo, err := results.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store %s: %w", cfg.Storage, err)
	}
	return repo, nil
}
