// Package commands provides the CLI commands for the agentcore engine.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentcore-ai/agentcore/internal/config"
	"github.com/agentcore-ai/agentcore/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	prettyLog bool
	workDir   string
)

// cfg is loaded once before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "agentcore - conversational session execution engine",
	Long: `agentcore runs multi-turn agent sessions: it persists conversations,
executes and gates tool calls, retries transient failures, and replays
missed events to reconnecting clients.

Run 'agentcore demo' to drive a scripted turn end to end, or
'agentcore sessions' to inspect stored sessions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Best effort; a missing .env is fine.
		_ = godotenv.Load()

		dir := workDir
		if dir == "" {
			var err error
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		}

		var err error
		if cfg, err = config.Load(dir); err != nil {
			return err
		}

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") || level == "" {
			level = logLevel
		}
		return logging.Init(logging.Config{
			Level:  logging.ParseLevel(level),
			Pretty: prettyLog || cfg.Log.Pretty,
			Dir:    cfg.Log.Dir,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Working directory for project config")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentcore %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
