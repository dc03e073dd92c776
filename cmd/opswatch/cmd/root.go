// Package cmd provides the opswatch CLI commands.
package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/logger"
)

// Version information, set by main.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	cfgFile   string
	logLevel  string
	logFormat string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "opswatch",
		Short: "Container and host monitoring with threshold alerts",
		Long: `opswatch samples container and host metrics, classifies entity health,
evaluates threshold rules with per-rule cooldowns and notifies email, chat
and webhook channels. A dashboard API streams live state over WebSocket.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&flags.cfgFile, "config", "c", "", "config file (default: ./opswatch.yaml, ~/.config/opswatch/, /etc/opswatch/)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (console, json)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCommand(flags),
		newRulesCommand(flags),
		newChannelCommand(flags),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads the settings and builds the logger, letting flags override
// the file.
func (f *globalFlags) load() (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(f.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		settings.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		settings.Log.Format = f.logFormat
	}
	log, err := logger.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}

// versionInfo returns formatted version information.
func versionInfo() string {
	return Version + "\n" +
		"Build Time: " + BuildTime + "\n" +
		"Git Commit: " + GitCommit + "\n" +
		"Go Version: " + runtime.Version() + "\n" +
		"OS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH
}
