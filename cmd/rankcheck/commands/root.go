// Package commands implements the rankcheck CLI.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type options struct {
	domain   string
	asJSON   bool
	logLevel string
}

// NewRootCmd builds the command tree. Output goes to the command's out stream.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "rankcheck",
		Short:         "rankcheck fetches and parses Google result pages and manages API keys.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.domain, "domain", "d", "", "Domain to locate in the results.")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print the report as JSON.")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error).")

	root.AddCommand(newFetchCmd(opts), newParseCmd(opts), newKeyCmd(opts))
	return root
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (o *options) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(o.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
