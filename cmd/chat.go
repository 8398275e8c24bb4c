package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"convoprobe/internal/chat"
	"convoprobe/internal/repl"
)

func newChatCmd(g *globalOptions) *cobra.Command {
	var (
		environment string
		track       string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to an agent interactively",
		Long: `chat opens an interactive console in a fresh session with the agent of an
environment. With --track, every reply is scored against the goals of a
scenario, which helps when writing new scenarios.

Example usage:
  convoprobe chat --env staging
  convoprobe chat --track new-patient-single-child`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			name, chatCfg, err := cfg.ChatConfig(environment)
			if err != nil {
				return configError(err)
			}

			opts := repl.Options{Vars: cfg.Environments[name].Vars}
			if track != "" {
				cat, err := catalog(cfg)
				if err != nil {
					return err
				}
				s, err := cat.Get(track)
				if err != nil {
					return configError(err)
				}
				opts.Track = s
			}

			console, err := repl.New(chat.NewClient(chatCfg, nil), cmd.OutOrStdout(), opts)
			if err != nil {
				return configError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return console.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "Environment to talk to (default: the configured default environment)")
	cmd.Flags().StringVar(&track, "track", "", "Score the conversation against this scenario's goals")
	_ = cmd.RegisterFlagCompletionFunc("track", completeScenarioIDs(g))

	return cmd
}
