// Package mcpserver exposes the scenario catalog, runs and stored results
// as MCP tools, so an assistant can drive conversation tests directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"convoprobe/internal/driver"
	"convoprobe/internal/model"
	"convoprobe/internal/results"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

// DriverFactory builds a driver for a named environment. An empty name
// selects the default environment.
type DriverFactory func(environment string, opts driver.Options) (*driver.Driver, error)

// Server serves the convoprobe MCP tools.
type Server struct {
	catalog   scenario.Catalog
	repo      results.Repository
	newDriver DriverFactory
	mcp       *server.MCPServer
}

// New creates the server and registers its tools.
func New(version string, catalog scenario.Catalog, repo results.Repository, newDriver DriverFactory) *Server {
	s := &Server{
		catalog:   catalog,
		repo:      repo,
		newDriver: newDriver,
		mcp: server.NewMCPServer(
			"convoprobe",
			version,
			server.WithToolCapabilities(true),
		),
	}

	s.mcp.AddTool(mcp.NewTool("list_scenarios",
		mcp.WithDescription("List the available conversation test scenarios"),
	), s.HandleListScenarios)

	s.mcp.AddTool(mcp.NewTool("run_scenario",
		mcp.WithDescription("Run a scenario against the booking agent and return its verdict"),
		mcp.WithString("scenario",
			mcp.Required(),
			mcp.Description("Scenario id"),
		),
		mcp.WithString("environment",
			mcp.Description("Configured environment to test; defaults to the default environment"),
		),
		mcp.WithNumber("max_turns",
			mcp.Description("Override the scenario's turn budget"),
		),
	), s.HandleRunScenario)

	s.mcp.AddTool(mcp.NewTool("get_result",
		mcp.WithDescription("Get the full stored result of a run, including the transcript"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id"),
		),
	), s.HandleGetResult)

	s.mcp.AddTool(mcp.NewTool("list_results",
		mcp.WithDescription("List stored run summaries, newest first"),
		mcp.WithString("scenario",
			mcp.Description("Only runs of this scenario"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return"),
		),
	), s.HandleListResults)

	return s
}

// ServeStdio serves the tools over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	logging.Info("MCPServer", "Serving convoprobe tools over stdio")
	return server.ServeStdio(s.mcp)
}

type scenarioInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Goals       int      `json:"goals"`
	MaxTurns    int      `json:"max_turns,omitempty"`
}

// HandleListScenarios handles the list_scenarios tool.
func (s *Server) HandleListScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.catalog.List()
	if len(list) == 0 {
		return mcp.NewToolResultText("No scenarios available"), nil
	}

	infos := make([]scenarioInfo, 0, len(list))
	for _, sc := range list {
		infos = append(infos, scenarioInfo{
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			Tags:        sc.Tags,
			Goals:       len(sc.Goals),
			MaxTurns:    sc.MaxTurns,
		})
	}
	return jsonResult(infos)
}

type runVerdict struct {
	RunID       string         `json:"run_id"`
	ScenarioID  string         `json:"scenario_id"`
	Environment string         `json:"environment,omitempty"`
	State       model.RunState `json:"state"`
	Passed      bool           `json:"passed"`
	Turns       int            `json:"turns"`
	UnmetGoals  []string       `json:"unmet_goals,omitempty"`
	Issues      []model.Issue  `json:"issues,omitempty"`
	Summary     string         `json:"summary"`
	StoreError  string         `json:"store_error,omitempty"`
}

// HandleRunScenario handles the run_scenario tool. The run completes before
// the tool returns.
func (s *Server) HandleRunScenario(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("scenario")
	if err != nil {
		return mcp.NewToolResultError("scenario parameter is required"), nil
	}
	sc, err := s.catalog.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := driver.Options{}
	if v, ok := request.GetArguments()["max_turns"].(float64); ok && v > 0 {
		opts.MaxTurns = int(v)
	}
	d, err := s.newDriver(request.GetString("environment", ""), opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to prepare run: %v", err)), nil
	}

	res, err := d.RunTest(ctx, sc, "")
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scenario %s cannot run: %v", id, err)), nil
	}

	v := runVerdict{
		RunID:       res.RunID,
		ScenarioID:  res.ScenarioID,
		Environment: res.Environment,
		State:       res.State,
		Passed:      res.Passed,
		Turns:       len(res.Turns),
		UnmetGoals:  res.UnmetGoals,
		Issues:      res.Issues,
		Summary:     res.Summary,
	}
	if err != nil {
		v.StoreError = err.Error()
	}
	return jsonResult(v)
}

// HandleGetResult handles the get_result tool.
func (s *Server) HandleGetResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	res, err := s.repo.Get(ctx, runID)
	if errors.Is(err, results.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Run not found: %s", runID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load run %s: %v", runID, err)), nil
	}
	return jsonResult(res)
}

// HandleListResults handles the list_results tool.
func (s *Server) HandleListResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := results.ListOptions{ScenarioID: request.GetString("scenario", "")}
	if v, ok := request.GetArguments()["limit"].(float64); ok && v > 0 {
		opts.Limit = int(v)
	}

	list, err := s.repo.List(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No runs stored"), nil
	}
	return jsonResult(list)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
