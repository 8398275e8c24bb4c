package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"convoprobe/internal/chat"
	"convoprobe/internal/config"
	"convoprobe/internal/driver"
	"convoprobe/internal/model"
	"convoprobe/internal/reporting"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

type runOptions struct {
	environment string
	tags        []string
	repeat      int
	parallel    int
	maxTurns    int
	timeout     time.Duration
	overrides   []string
	verbose     bool
	jsonOutput  bool
	report      bool
	reportDir   string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [scenario-id...]",
		Short: "Run conversation scenarios against an agent",
		Long: `Run plays each selected scenario against the agent of an environment and
prints a verdict per run. Without arguments every scenario in the catalog
runs, optionally narrowed with --tag.

Exit codes:
  0  every run passed
  1  at least one run failed
  2  configuration or scenario definition error; nothing was sent
  3  at least one run was aborted

Example usage:
  convoprobe run new-patient-single-child
  convoprobe run --env staging --tag smoke
  convoprobe run blank-opening --repeat 10 --parallel 4
  convoprobe run new-patient-single-child --set child_name=Lily --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, g, o, args)
		},
		ValidArgsFunction: completeScenarioIDs(g),
	}

	cmd.Flags().StringVarP(&o.environment, "env", "e", "", "Environment to test (default: the configured default environment)")
	cmd.Flags().StringSliceVar(&o.tags, "tag", nil, "Only run scenarios carrying all of these tags")
	cmd.Flags().IntVar(&o.repeat, "repeat", 1, "Run each scenario this many times")
	cmd.Flags().IntVar(&o.parallel, "parallel", 1, "Number of runs executing concurrently")
	cmd.Flags().IntVar(&o.maxTurns, "max-turns", 0, "Override every scenario's turn budget")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Override every scenario's wall-clock budget")
	cmd.Flags().StringArrayVar(&o.overrides, "set", nil, "Override a persona fact (fact=value); repeatable")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Print every turn as it happens")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "Print the suite summary as JSON instead of text")
	cmd.Flags().BoolVar(&o.report, "report", false, "Save a JSON report to the report directory")
	cmd.Flags().StringVar(&o.reportDir, "report-dir", "", "Report directory (default: from config)")

	cmd.MarkFlagsMutuallyExclusive("json", "verbose")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if o.repeat < 1 {
			return configError(fmt.Errorf("--repeat must be at least 1, got %d", o.repeat))
		}
		if o.parallel < 1 || o.parallel > 32 {
			return configError(fmt.Errorf("parallel workers must be between 1 and 32, got %d", o.parallel))
		}
		if o.maxTurns < 0 {
			return configError(fmt.Errorf("--max-turns must not be negative"))
		}
		return nil
	}

	return cmd
}

func runScenarios(cmd *cobra.Command, g *globalOptions, o *runOptions, args []string) error {
	cfg, err := g.setup(cmd)
	if err != nil {
		return err
	}

	scenarios, err := selectScenarios(cfg, args, o.tags)
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(o.overrides)
	if err != nil {
		return configError(err)
	}
	for i, s := range scenarios {
		s = s.WithOverrides(overrides)
		if err := s.Validate(); err != nil {
			return configError(err)
		}
		scenarios[i] = s
	}

	envName, chatCfg, err := cfg.ChatConfig(o.environment)
	if err != nil {
		return configError(err)
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return configError(err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logging.Error("CLI", err, "Failed to close results store")
		}
	}()

	var reporter reporting.Reporter
	if o.jsonOutput {
		reporter = reporting.NewJSONReporter(cmd.OutOrStdout())
	} else {
		reporter = reporting.NewConsoleReporter(cmd.OutOrStdout(), o.verbose)
	}

	d := driver.New(chat.NewClient(chatCfg, nil), repo, driver.Options{
		MaxTurns:    o.maxTurns,
		RunTimeout:  o.timeout,
		Environment: envName,
		Vars:        cfg.Environments[envName].Vars,
		Observer:    reporter,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("CLI", "Running %d scenario(s) x%d against %s (%s)", len(scenarios), o.repeat, envName, chatCfg.Endpoint)
	outcomes := d.RunSuite(ctx, driver.Jobs(scenarios, o.repeat), o.parallel)
	sum := reporter.ReportSuite(outcomes)

	if o.report {
		dir := o.reportDir
		if dir == "" {
			dir = cfg.ReportDir
		}
		file, err := reporting.SaveReport(dir, sum)
		if err != nil {
			logging.Error("CLI", err, "Failed to save report")
		} else if !o.jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", file)
		}
	}

	return verdictError(outcomes)
}

// selectScenarios resolves ids, or the whole catalog when none are given,
// and narrows the result by tags.
func selectScenarios(cfg config.Config, ids []string, tags []string) ([]*scenario.Scenario, error) {
	cat, err := catalog(cfg)
	if err != nil {
		return nil, err
	}

	var selected []*scenario.Scenario
	if len(ids) == 0 {
		selected = cat.List()
	} else {
		for _, id := range ids {
			s, err := cat.Get(id)
			if err != nil {
				return nil, configError(err)
			}
			selected = append(selected, s)
		}
	}

	selected = scenario.FilterScenarios(selected, tags)
	if len(selected) == 0 {
		return nil, configError(fmt.Errorf("%w: no scenarios match tags %s", scenario.ErrNotFound, strings.Join(tags, ", ")))
	}
	return selected, nil
}

// parseOverrides turns fact=value pairs into a map.
func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected fact=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// verdictError maps suite outcomes to the exit status: any abort wins over
// any failure, and a result that could not be stored counts as a failure.
func verdictError(outcomes []driver.Outcome) error {
	var aborted, failed int
	var errs []error
	for _, o := range outcomes {
		switch {
		case o.Result == nil:
			failed++
		case o.Result.State == model.StateAborted:
			aborted++
		case !o.Result.Passed:
			failed++
		}
		if o.Err != nil {
			errs = append(errs, o.Err)
			if o.Result != nil && o.Result.Passed {
				failed++
			}
		}
	}

	switch {
	case aborted > 0:
		return &exitError{code: ExitAborted, err: fmt.Errorf("%d run(s) aborted", aborted)}
	case failed > 0:
		err := fmt.Errorf("%d run(s) failed", failed)
		if len(errs) > 0 {
			err = fmt.Errorf("%w: %w", err, errors.Join(errs...))
		}
		return &exitError{code: ExitFail, err: err}
	}
	return nil
}

// completeScenarioIDs provides shell completion for scenario ids.
func completeScenarioIDs(g *globalOptions) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.LoadConfig(g.configPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		if g.scenarios != "" {
			cfg.Scenarios = g.scenarios
		}
		cat, err := catalog(cfg)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var ids []string
		for _, s := range cat.List() {
			ids = append(ids, s.ID)
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}
