package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running intake server via HTTP.

These commands require a running server (intake serve).
Use --server to specify a custom server URL.

Examples:
  intake api health                   # Check server health
  intake api jobs submit kickoff.vtt  # Submit a session for extraction
  intake api jobs watch <id>          # Stream job progress
  intake api items review <id> APPROVED`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Profile item review commands",
}

var llmcallsCmd = &cobra.Command{
	Use:   "llmcalls",
	Short: "Model call history commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.SubmitJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.ListJobsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.DeleteJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.JobProgressEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.SubscribeJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.RetryJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.ListItemsEndpoint{}).Command(getServerURL))

	// Items as subcommand group
	itemsCmd.AddCommand((&endpoints.UpdateItemEndpoint{}).Command(getServerURL))
	itemsCmd.AddCommand((&endpoints.ProfileEndpoint{}).Command(getServerURL))

	// Gateways at top level
	apiCmd.AddCommand((&endpoints.ListGatewaysEndpoint{}).Command(getServerURL))

	// LLM calls as subcommand group
	llmcallsCmd.AddCommand((&endpoints.ListLLMCallsEndpoint{}).Command(getServerURL))
	llmcallsCmd.AddCommand((&endpoints.LLMCallStatsEndpoint{}).Command(getServerURL))

	// Swagger spec fetch
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(itemsCmd)
	apiCmd.AddCommand(llmcallsCmd)
	rootCmd.AddCommand(apiCmd)
}
