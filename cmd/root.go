package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/mailgraph/internal/logging"
)

var (
	logFormat string
	logLevel  string
	debugMode bool
)

// rootCmd represents the base command for the mailgraph application
var rootCmd = &cobra.Command{
	Use:   "mailgraph",
	Short: "Read-only Microsoft 365 mailbox queries behind an identity key",
	Long: `mailgraph binds a Microsoft 365 mailbox to an opaque identity key through
the OAuth authorization code flow and answers mailbox queries over Microsoft
Graph for whoever holds the key.

It exposes the queries as:
  - a JSON action endpoint (POST /api/tools)
  - MCP tools over streamable HTTP (/mcp) or stdio`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadDotEnv(".env"); err != nil {
			return err
		}
		if debugMode && !cmd.Flags().Changed("log-level") {
			logLevel = "debug"
		}
		envString(cmd, "log-format", "LOG_FORMAT", &logFormat)
		envString(cmd, "log-level", "LOG_LEVEL", &logLevel)

		// Logs go to stderr so stdout stays free for the stdio transport.
		logger, err := logging.New(os.Stderr, logFormat, logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailgraph version %s\n" .Version}}`)

	// Without a subcommand, run the server.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json. Can also use LOG_FORMAT env var.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error. Can also use LOG_LEVEL env var.")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Shorthand for --log-level=debug")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
