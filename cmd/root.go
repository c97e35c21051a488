package cmd

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yz4230/shipyard/cmd/hook"
	"github.com/yz4230/shipyard/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootFlags struct {
	verbose bool
	config  string
	logFile string
}

var rootCmd = &cobra.Command{
	Use:   "shipyard",
	Short: "Single-target CI/CD orchestrator",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(rootFlags.logFile, config.LogConfig{})
	},
}

// setupLogger writes human readable logs to stderr and, when file is set,
// JSON logs to a rotated file.
func setupLogger(file string, rotation config.LogConfig) {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if file != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
			Compress:   true,
		})
	}
	level := zerolog.InfoLevel
	if rootFlags.verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logFile, "log-file", "", "Also write JSON logs to this file, rotated")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hook.HookCmd)
}
