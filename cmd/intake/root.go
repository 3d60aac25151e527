package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Client onboarding pipeline with LLM-powered extraction and review",
	Long: `Intake turns raw client onboarding material (kickoff call transcripts,
technical sessions, requirements documents) into a structured, reviewable
client profile.

The pipeline includes:
  - Session classification by content type
  - General and specialized fact extraction with source attribution
  - A quality gate that scores each stage before it advances
  - Profile materialization with confidence-based auto-approval`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.intake/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "intake home directory (default: ~/.intake)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
