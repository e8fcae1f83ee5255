package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		slog.Error("tsprobe failed", "error", err)
		os.Exit(1)
	}
}

// options holds the flags shared by every subcommand.
type options struct {
	inputs  []string
	verbose bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tsprobe",
		Short:         "Analyze MPEG transport streams",
		Long:          "tsprobe reads MPEG-TS from files, stdin, UDP or SRT and reports the program model, PES packets or per-PID statistics.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(stderr, opts.verbose)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringArrayVarP(&opts.inputs, "input", "i", nil,
		"input to analyze: file path, -, udp://host:port or srt://host:port?streamid=key (repeatable)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output and debug logging")

	root.AddCommand(
		newModelCmd(opts),
		newPESCmd(opts),
		newStatsCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print tsprobe version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tsprobe %s\n", version)
			},
			DisableFlagsInUseLine: true,
		},
	)
	return root
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
