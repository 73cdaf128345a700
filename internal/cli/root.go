// Package cli implements the command-line interface for mirag.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/embeddings"
	"github.com/nickcecere/mirag/internal/store"
	"github.com/nickcecere/mirag/internal/ui"
)

var (
	// Version information set at build time
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile string
	debug   bool
)

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mirag",
	Short: "Motivational interviewing video retrieval store",
	Long: `mirag stores summaries and embeddings of motivational interviewing (MI)
session videos in a vector index and retrieves them for retrieval-augmented
generation.

Videos listed in a catalog CSV are summarized by a video-understanding service,
scored for MI quality by a language model and stored with their metadata.

Examples:
  # Create the configured index
  mirag init

  # Ingest a catalog of videos
  mirag ingest videos.csv

  # Find sessions about ambivalence
  mirag search "exploring ambivalence about drinking"

  # Fetch stored records by id
  mirag retrieve --id 5d41402abc4b2a76b9719d911017c592`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging based on debug flag
		if debug {
			ui.SetDebug(true)
			log.Debug("Debug logging enabled")
		}

		// Load configuration
		if err := config.Load(cfgFile); err != nil {
			log.Warn("Failed to load config", "error", err)
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	ui.InitLogger()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mirag/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirag %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

// signalContext returns a context cancelled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openStore binds a store to the configured index. The SQLite backend embeds
// flat records itself and needs an embedding service; Pinecone embeds them
// server side.
func openStore(ctx context.Context, cfg *config.Config) (*store.VectorIndexStore, error) {
	var emb store.Embedder
	if cfg.Vector.Backend == store.BackendSQLite {
		svc, err := embeddings.NewService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
		emb = svc
	}

	st, err := store.Open(ctx, cfg, emb)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
