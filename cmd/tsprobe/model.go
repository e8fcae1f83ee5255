package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/tsprobe/internal/ingest"
	"github.com/zsiec/tsprobe/internal/mpegts"
)

func newModelCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Print the program model built from PAT and PMT",
		Long: "model reads each input until its PAT and every referenced PMT have been seen and prints the programs " +
			"and elementary streams. With --all it keeps following version changes and prints every new model.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(cmd.OutOrStdout(), opts)
			return a.eachInput(cmd.Context(), func(ctx context.Context, s *ingest.Stream) error {
				return a.runModel(ctx, s, all)
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "keep reading and print every model version")
	return cmd
}

func (a *app) runModel(ctx context.Context, s *ingest.Stream, all bool) error {
	log := a.log.With("input", s.Key)
	sm := mpegts.NewStreamModel(a.opts.verbose,
		mpegts.StreamModelOptLogger(log),
		mpegts.StreamModelOptTracking(all),
	)

	var printErr error
	err := a.feed(ctx, s, func(buf []byte, n int) bool {
		if !sm.Write(buf, n) {
			return true
		}
		model, err := sm.QueryModel()
		if err != nil {
			printErr = err
			return false
		}
		if printErr = a.printModel(s.Key, model); printErr != nil {
			return false
		}
		return all
	})

	c := sm.Counters()
	log.Debug("model counters", "packets", c.Packets, "completions", c.Completions,
		"crc_errors", c.CRCErrors, "truncated", c.TruncatedSection,
		"discontinuities", c.Discontinuities, "malformed", c.MalformedSection,
		"framing_errors", c.FramingErrors)

	if err := errors.Join(err, printErr); err != nil {
		return err
	}
	if _, qerr := sm.QueryModel(); qerr != nil {
		return fmt.Errorf("%s: %w", s.Key, qerr)
	}
	return nil
}

func (a *app) printModel(key string, m *mpegts.ProgramModel) error {
	var b bytes.Buffer
	b.WriteString(a.header(key))
	if err := m.Dump(&b, a.opts.verbose); err != nil {
		return err
	}
	_, err := a.out.Write(b.Bytes())
	return err
}
