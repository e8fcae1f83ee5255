package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zsiec/tsprobe/internal/ingest"
	"github.com/zsiec/tsprobe/internal/mpegts"
)

// payloadPreview is how much of each payload verbose output dumps.
const payloadPreview = 16

func newPESCmd(opts *options) *cobra.Command {
	var (
		pid      uint16
		streamID uint8
	)
	cmd := &cobra.Command{
		Use:   "pes",
		Short: "Reassemble and print PES packets from one PID",
		Long: "pes reassembles the PES packets carried on --pid and prints one line per packet with its " +
			"stream id, length and timestamps. --streamid keeps only packets with that stream id.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []func(*mpegts.PESExtractor)
			if cmd.Flags().Changed("streamid") {
				extra = append(extra, mpegts.PESExtractorOptStreamID(streamID))
			}
			a := newApp(cmd.OutOrStdout(), opts)
			return a.eachInput(cmd.Context(), func(ctx context.Context, s *ingest.Stream) error {
				return a.runPES(ctx, s, pid, extra)
			})
		},
	}
	cmd.Flags().Uint16Var(&pid, "pid", 0, "PID carrying the elementary stream (required)")
	cmd.Flags().Uint8Var(&streamID, "streamid", 0, "only emit packets with this stream id, e.g. 0xE0")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

func (a *app) runPES(ctx context.Context, s *ingest.Stream, pid uint16, extra []func(*mpegts.PESExtractor)) error {
	log := a.log.With("input", s.Key)
	prefix := ""
	if len(a.opts.inputs) > 1 {
		prefix = s.Key + ": "
	}

	var writeErr error
	sink := func(p *mpegts.PESPacket) {
		if writeErr != nil {
			return
		}
		_, writeErr = a.out.Write([]byte(prefix + a.formatPES(p)))
	}

	opts := append([]func(*mpegts.PESExtractor){
		mpegts.PESExtractorOptLogger(log),
		mpegts.PESExtractorOptVerbose(a.opts.verbose),
	}, extra...)
	pe, err := mpegts.NewPESExtractor(pid, sink, opts...)
	if err != nil {
		return err
	}

	err = a.feed(ctx, s, func(buf []byte, n int) bool {
		pe.Write(buf, n)
		return writeErr == nil
	})
	pe.Flush()

	c := pe.Counters()
	log.Info("pes done", "pid", fmt.Sprintf("0x%04x", pid), "emitted", c.Emitted,
		"filtered", c.Filtered, "bad_start_codes", c.BadStartCodes, "length_errors", c.LengthErrors,
		"discontinuities", c.Discontinuities, "overflows", c.Overflows, "tei", c.TransportErrors)
	if err != nil {
		return err
	}
	return writeErr
}

func (a *app) formatPES(p *mpegts.PESPacket) string {
	var b strings.Builder
	b.WriteString(p.String())
	if a.opts.verbose && len(p.Payload) > 0 {
		n := min(len(p.Payload), payloadPreview)
		fmt.Fprintf(&b, " payload %s", hex.EncodeToString(p.Payload[:n]))
		if n < len(p.Payload) {
			b.WriteString("...")
		}
	}
	b.WriteByte('\n')
	return b.String()
}
