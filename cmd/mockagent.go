package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"convoprobe/internal/mockagent"
)

func newMockAgentCmd(g *globalOptions) *cobra.Command {
	var (
		scriptPath string
		builtin    string
		addr       string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "mock-agent",
		Short: "Serve a scripted stand-in for the booking agent",
		Long: `mock-agent serves the prediction endpoint from a YAML script so scenarios
can run without a live agent. The default "local" environment points at it.

Builtin scripts are named after the scenarios they answer:
  ` + strings.Join(mockagent.BuiltinScripts(), "\n  ") + `

Example usage:
  convoprobe mock-agent &
  convoprobe run new-patient-single-child
  convoprobe mock-agent --script ./my-agent.yaml --addr :4000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.setup(cmd); err != nil {
				return err
			}
			if list {
				for _, name := range mockagent.BuiltinScripts() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			var (
				script mockagent.Script
				err    error
			)
			if scriptPath != "" {
				script, err = mockagent.LoadScript(scriptPath)
			} else {
				script, err = mockagent.BuiltinScript(builtin)
			}
			if err != nil {
				return configError(err)
			}

			server, err := mockagent.New(script)
			if err != nil {
				return configError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "Script file to serve")
	cmd.Flags().StringVar(&builtin, "builtin", "new-patient-single-child", "Builtin script to serve when --script is not set")
	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address")
	cmd.Flags().BoolVar(&list, "list", false, "List builtin scripts and exit")
	cmd.MarkFlagsMutuallyExclusive("script", "builtin")

	return cmd
}
