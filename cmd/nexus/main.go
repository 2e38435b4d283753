// Package main provides the CLI entry point for the Cascade engine, a
// desktop-hosted multi-provider LLM orchestration engine for an agentic
// coding assistant.
//
// It drives remote LLM providers (Anthropic, OpenAI-compatible, DeepSeek,
// GLM, Qwen, Ollama) through streaming chat/tool-use protocols, composes
// agents (sequential, loop, parallel, LLM-driven) over a bounded local tool
// surface (filesystem, shell, search, MCP-bridged tools), records every
// file mutation in a content-addressable store so turns can be rolled back,
// and indexes project documents and named knowledge collections for
// retrieval-augmented generation.
//
// # Basic Usage
//
// Start the server:
//
//	nexus serve --config nexus.yaml
//
// Check system status:
//
//	nexus status
//
// Manage database migrations:
//
//	nexus migrate up
//	nexus migrate status
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - NEXUS_CONFIG: Path to configuration file (default: nexus.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT-family and compatible models
//   - DEEPSEEK_API_KEY: DeepSeek API key
//   - GLM_API_KEY: Zhipu GLM API key
//   - QWEN_API_KEY: Alibaba Qwen (DashScope) API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"     // Semantic version (e.g., "v1.0.0")
	commit      = "none"    // Git commit SHA
	date        = "unknown" // Build timestamp
	profileName string
)

// main is the entry point for the Nexus CLI.
// It sets up the root command and all subcommands, then executes based on CLI args.
func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Build the command tree.
	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Cascade - desktop-hosted multi-provider LLM orchestration engine",
		Long: `Cascade drives remote LLM providers through streaming chat/tool-use
protocols, composes agents over a bounded local tool surface, and indexes
project documents and named knowledge collections for retrieval-augmented
generation.

Supported LLM providers: Anthropic (Claude), OpenAI, DeepSeek, GLM, Qwen, Ollama
Available tools: filesystem, shell, search, MCP-bridged tools, sub-agent delegation

Documentation: https://github.com/cascadehq/engine`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (uses ~/.nexus/profiles/<name>.yaml; or set NEXUS_PROFILE)")

	// Attach all subcommands.
	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildChannelsCmd(),
		buildAgentsCmd(),
		buildSessionsCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
		buildPromptCmd(),
		buildSetupCmd(),
		buildOnboardCmd(),
		buildAuthCmd(),
		buildProfileCmd(),
		buildSkillsCmd(),
		buildExtensionsCmd(),
		buildPluginsCmd(),
		buildServiceCmd(),
		buildMemoryCmd(),
		buildMcpCmd(),
		buildTraceCmd(),
		buildRagCmd(),
		buildArtifactsCmd(),
		buildEdgeCmd(),
		buildEventsCmd(),
		buildPairingCmd(),
	)

	return rootCmd
}
