// Package cli implements the engram command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lexlapax/engram/pkg/config"
	"github.com/lexlapax/engram/pkg/engram"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "engram",
		Short: "Associative memory engine",
		Long: "engram stores episodic, semantic, emotional and procedural memories, " +
			"ranks them by salience and consolidates them over time.\n\n" +
			"Without a persistence backend every command starts from an empty memory.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration (default: built-in defaults plus ENGRAM_* environment)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the configuration; missing is fine")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newReplCmd(opts),
		newRememberCmd(opts),
		newQueryCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newConsolidateCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromFile(o.configPath)
	} else {
		cfg, err = config.FromEnvironment()
	}
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	slog.SetDefault(log.SetupWithOutput(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	}, os.Stderr))
	return cfg, nil
}

// openEngine builds the configured engine and loads whatever the
// persistence backend holds.
func (o *rootOptions) openEngine(ctx context.Context) (*engram.Engine, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	e, err := engram.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.Hydrate(ctx); err != nil {
		e.Close()
		return nil, nil, fmt.Errorf("failed to load persisted memories: %w", err)
	}
	return e, cfg, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
