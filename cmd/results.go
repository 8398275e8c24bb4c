package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"convoprobe/internal/model"
	"convoprobe/internal/results"
	"convoprobe/pkg/logging"
)

func newResultsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"result"},
		Short:   "Inspect stored runs",
	}

	var opts results.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := g.repository(cmd)
			if err != nil {
				return err
			}
			defer closeRepository(repo)

			summaries, err := repo.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), text.FgYellow.Sprint("No runs found"))
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("RUN ID"),
				text.FgHiCyan.Sprint("SCENARIO"),
				text.FgHiCyan.Sprint("ENV"),
				text.FgHiCyan.Sprint("STATE"),
				text.FgHiCyan.Sprint("TURNS"),
				text.FgHiCyan.Sprint("STARTED"),
				text.FgHiCyan.Sprint("DURATION"),
			})
			for _, s := range summaries {
				t.AppendRow(table.Row{
					s.RunID,
					s.ScenarioID,
					s.Environment,
					stateText(s.State),
					s.Turns,
					s.StartedAt.Local().Format(time.DateTime),
					s.Duration.Round(time.Millisecond),
				})
			}
			t.Render()
			return nil
		},
	}
	list.Flags().StringVar(&opts.ScenarioID, "scenario", "", "Only runs of this scenario")
	list.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs (0 for all)")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := g.repository(cmd)
			if err != nil {
				return err
			}
			defer closeRepository(repo)

			res, err := repo.Get(cmd.Context(), args[0])
			if errors.Is(err, results.ErrNotFound) {
				return configError(err)
			}
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal run: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printRun(cmd.OutOrStdout(), res)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the stored result as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

func (g *globalOptions) repository(cmd *cobra.Command) (results.Repository, error) {
	cfg, err := g.setup(cmd)
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, configError(err)
	}
	return repo, nil
}

func closeRepository(repo results.Repository) {
	if err := repo.Close(); err != nil {
		logging.Error("CLI", err, "Failed to close results store")
	}
}

func stateText(s model.RunState) string {
	switch s {
	case model.StateCompletedPass:
		return text.FgGreen.Sprint("PASS")
	case model.StateAborted:
		return text.FgYellow.Sprint("ABORTED")
	case model.StateCompletedFail:
		return text.FgRed.Sprint("FAIL")
	}
	return string(s)
}

// printRun writes the verdict, the goal table and the transcript of a run.
func printRun(w io.Writer, r *model.RunResult) {
	fmt.Fprintf(w, "Run %s: %s %s\n", r.RunID, r.ScenarioID, stateText(r.State))
	if r.Environment != "" {
		fmt.Fprintf(w, "Environment: %s\n", r.Environment)
	}
	fmt.Fprintf(w, "Started: %s  Duration: %v\n", r.StartedAt.Local().Format(time.DateTime), r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "%s\n\n", r.Summary)

	achievedAt := make(map[string]model.GoalResult)
	for _, gr := range r.GoalResults {
		achievedAt[gr.GoalID] = gr
	}
	required := append([]string(nil), r.RequiredGoals...)
	sort.Strings(required)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("GOAL"), text.FgHiCyan.Sprint("MET"), text.FgHiCyan.Sprint("TURN"), text.FgHiCyan.Sprint("EVIDENCE")})
	for _, id := range required {
		gr, ok := achievedAt[id]
		switch {
		case ok && gr.Achieved:
			t.AppendRow(table.Row{id, text.FgGreen.Sprint("yes"), gr.Turn, gr.Evidence})
		case ok:
			t.AppendRow(table.Row{id, text.FgRed.Sprint("violated"), gr.Turn, gr.Evidence})
		default:
			t.AppendRow(table.Row{id, text.FgRed.Sprint("no"), "-", ""})
		}
	}
	t.Render()

	if len(r.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, is := range r.Issues {
			fmt.Fprintf(w, "  turn %d %s [%s] %s\n", is.Turn, is.Severity, is.Category, is.Description)
		}
	}

	fmt.Fprintln(w, "\nTranscript:")
	for _, turn := range r.Turns {
		fmt.Fprintf(w, "  #%d user (%s): %s\n", turn.Number, turn.Source, turn.UserMessage)
		if turn.Failed {
			fmt.Fprintf(w, "     no reply after %d attempts: %s\n", turn.Attempts, turn.Error)
			continue
		}
		fmt.Fprintf(w, "     agent: %s\n", turn.Reply)
		for _, tc := range turn.ToolCalls {
			fmt.Fprintf(w, "     tool: %s\n", tc.Name)
		}
	}
}
