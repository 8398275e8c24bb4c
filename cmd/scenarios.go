package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"convoprobe/internal/scenario"
)

func newScenariosCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scenarios",
		Aliases: []string{"scenario"},
		Short:   "Inspect the scenario catalog",
	}

	var tags []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			cat, err := catalog(cfg)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("ID"),
				text.FgHiCyan.Sprint("NAME"),
				text.FgHiCyan.Sprint("GOALS"),
				text.FgHiCyan.Sprint("MAX TURNS"),
				text.FgHiCyan.Sprint("TAGS"),
			})

			n := 0
			for _, s := range scenario.FilterScenarios(cat.List(), tags) {
				maxTurns := "-"
				if s.MaxTurns > 0 {
					maxTurns = fmt.Sprint(s.MaxTurns)
				}
				t.AppendRow(table.Row{s.ID, s.Name, len(s.Goals), maxTurns, strings.Join(s.Tags, ", ")})
				n++
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), text.FgYellow.Sprint("No scenarios found"))
				return nil
			}
			t.Render()
			return nil
		},
	}
	list.Flags().StringSliceVar(&tags, "tag", nil, "Only list scenarios carrying all of these tags")

	show := &cobra.Command{
		Use:               "show <scenario-id>",
		Short:             "Print a scenario definition as YAML",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeScenarioIDs(g),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			cat, err := catalog(cfg)
			if err != nil {
				return err
			}
			s, err := cat.Get(args[0])
			if err != nil {
				return configError(err)
			}

			data, err := yaml.Marshal(s)
			if err != nil {
				return fmt.Errorf("failed to convert to YAML: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
