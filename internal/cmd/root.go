// Package cmd provides the CLI commands for pipechat.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkova/pipechat/internal/appdir"
	"github.com/arkova/pipechat/internal/config"
	"github.com/arkova/pipechat/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string // --server flag, overrides config
	tokenFlag     string // --token flag, overrides config
	debugFlag     bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipechat",
	Short: "Pipechat - debug chat sessions against bot pipelines",
	Long: `Pipechat is a command-line interface for talking to the bot
pipelines of a conversational-bot platform.

It opens a realtime debug session against a running pipeline and lets
you exchange messages with the bot exactly as an end user would, with
streamed replies and full message history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Load configuration first so logging can pick up file settings.
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			cfg, err = config.LoadDefault()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}
		if serverURL != "" {
			cfg.Server = serverURL
		}
		if tokenFlag != "" {
			cfg.Token = tokenFlag
			cfg.TokenCommand = ""
		}

		// Ensure the pipechat directory exists before logs land in it
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create pipechat directory: %w", err)
		}

		// Initialize logging
		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debugFlag {
			effectiveLogLevel = "debug"
		}
		effectiveLogFile := logFile
		if effectiveLogFile == "" {
			effectiveLogFile, err = cfg.LogFilePath()
			if err != nil {
				return fmt.Errorf("failed to resolve log file: %w", err)
			}
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			File:       effectiveLogFile,
			JSON:       cfg.Log.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides the default ~/.pipechatrc)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Platform server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Auth token for the platform API (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'debug,api,cli'). Empty means all components.")
}
