package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Credentials are never printed; only whether they are set.

Examples:
  # Show current configuration
  mirag config

  # Show config file paths
  mirag config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .miragrc.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("SQLite:        %s\n", cfg.Vector.SQLite.Path)
		fmt.Printf("Reports:       %s\n", cfg.Pipeline.ExportDir)
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Vector:"))
	fmt.Printf("  Backend: %s\n", cfg.Vector.Backend)
	fmt.Printf("  Index: %s\n", cfg.Vector.Index)
	fmt.Printf("  Cloud: %s (%s)\n", cfg.Vector.Cloud, cfg.Vector.Region)
	fmt.Printf("  Embed Model: %s\n", cfg.Vector.EmbedModel)
	fmt.Printf("  Dimension: %d\n", cfg.Vector.Dimension)
	fmt.Printf("  Pinecone API Key: %s\n", secretState(cfg.Vector.Pinecone.APIKey))
	if cfg.Vector.Pinecone.Host != "" {
		fmt.Printf("  Pinecone Host: %s\n", cfg.Vector.Pinecone.Host)
	}
	fmt.Println("  Field Map:")
	roles := make([]string, 0, len(cfg.Vector.FieldMap))
	for role := range cfg.Vector.FieldMap {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("    %s -> %s\n", role, cfg.Vector.FieldMap[role])
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Evaluator:"))
	fmt.Printf("  Provider: %s\n", cfg.Evaluator.Provider)
	fmt.Printf("  Gemini Models: %v\n", cfg.Evaluator.Gemini.Models)
	fmt.Printf("  Gemini API Key: %s\n", secretState(cfg.Evaluator.Gemini.APIKey))
	fmt.Printf("  OpenAI Model: %s\n", cfg.Evaluator.OpenAI.Model)
	if cfg.Evaluator.BasePrompt != "" {
		fmt.Printf("  Base Prompt: %s\n", truncateTitle(cfg.Evaluator.BasePrompt, 60))
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Summarizer:"))
	fmt.Printf("  URL: %s\n", cfg.Summarizer.BaseURL)
	fmt.Printf("  API Key: %s\n", secretState(cfg.Summarizer.APIKey))
	fmt.Printf("  Poll Interval: %s\n", cfg.Summarizer.PollInterval)
	fmt.Printf("  Max Wait: %s\n", cfg.Summarizer.MaxWait)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Pipeline:"))
	fmt.Printf("  Batch Size: %d\n", cfg.Pipeline.BatchSize)
	fmt.Printf("  Rate Limit: %s\n", cfg.Pipeline.RateLimit)
	fmt.Printf("  Export Dir: %s\n", cfg.Pipeline.ExportDir)

	return nil
}

func secretState(v string) string {
	if v == "" {
		return ui.Warning.Render("not set")
	}
	return ui.Success.Render("set")
}
