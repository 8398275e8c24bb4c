package cmd

import (
	"github.com/spf13/cobra"

	"convoprobe/internal/chat"
	"convoprobe/internal/driver"
	"convoprobe/internal/mcpserver"
)

func newMCPCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve convoprobe as an MCP server over stdio",
		Long: `mcp exposes the scenario catalog, runs and stored results as MCP tools
(list_scenarios, run_scenario, get_result, list_results) over stdio, for use
from an AI assistant. Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			cat, err := catalog(cfg)
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg)
			if err != nil {
				return configError(err)
			}
			defer closeRepository(repo)

			factory := func(environment string, opts driver.Options) (*driver.Driver, error) {
				name, chatCfg, err := cfg.ChatConfig(environment)
				if err != nil {
					return nil, err
				}
				opts.Environment = name
				opts.Vars = cfg.Environments[name].Vars
				return driver.New(chat.NewClient(chatCfg, nil), repo, opts), nil
			}

			return mcpserver.New(cmd.Root().Version, cat, repo, factory).ServeStdio()
		},
	}
}
