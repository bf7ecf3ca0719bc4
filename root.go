package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flags shared by every subcommand.
type CLIFlags struct {
	ConfigPath string
	School     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what every subcommand receives after the root pre-run:
// parsed flags, the resolved configuration, a configured logger, and the
// on-disk locations it works with.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	CredentialsPath string
	CacheDBPath     string
	PIDPath         string

	Stdout io.Writer
	Stdin  io.Reader

	logFile io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:     "firefly-go",
		Short:   "Firefly task client",
		Long:    "An offline-first command-line client for Firefly school tasks.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return mustCLIContext(cmd.Context()).close()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.School, "school", "", "school code (overrides config)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newStatusMutationCmds()...)
	cmd.AddCommand(newCommentCmd())
	cmd.AddCommand(newAttachCmd())
	cmd.AddCommand(newNewTaskCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newMessagesCmd())
	cmd.AddCommand(newBookmarksCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger from it.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		School:     flags.School,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, logFile, err := buildLogger(&resolved.Logging, flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	return &CLIContext{
		Flags:           flags,
		Cfg:             resolved,
		Logger:          logger,
		CredentialsPath: config.CredentialsPath(),
		CacheDBPath:     config.CacheDBPath(),
		PIDPath:         config.PIDFilePath(),
		Stdout:          cmd.OutOrStdout(),
		Stdin:           cmd.InOrStdin(),
		logFile:         logFile,
	}, nil
}

func (cc *CLIContext) close() error {
	if cc.logFile == nil {
		return nil
	}

	return cc.logFile.Close()
}

// logFilePermissions matches the config file permissions.
const logFilePermissions = 0o644

// buildLogger creates an slog.Logger configured by the logging section and
// CLI flags. The config log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. With log_file set, logs
// go to that file instead of stderr and the returned Closer must be closed.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo

	switch lc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	out := stderr

	var closer io.Closer

	if lc.LogFile != "" {
		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, closer = f, f
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
