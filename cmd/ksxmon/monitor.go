package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
	"github.com/nerrad567/gray-logic-homenet/internal/stream"
	"github.com/nerrad567/gray-logic-homenet/internal/transport"
)

type monitorOptions struct {
	kinds []string
	raw   bool
}

func newMonitorCmd(conn *connFlags) *cobra.Command {
	opts := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Decode and print every frame on the line",
		Long: `Continuously decode and display frames as they arrive. The connection is
re-established automatically if it drops.

Supports serial, WebSocket and TCP connections.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseKindFilter(opts.kinds)
			if err != nil {
				return err
			}
			dialer, err := conn.dialer()
			if err != nil {
				return err
			}
			tc := conn.transportConfig()
			return runMonitor(cmd.Context(), dialer, tc.GetReconnectInterval(), filter, opts.raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&opts.kinds, "kind", "k", nil, "Only show these device kinds (name or hex id, repeatable)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Also print raw received chunks")
	return cmd
}

// runMonitor prints frames until ctx is cancelled.
func runMonitor(ctx context.Context, dialer transport.Dialer, reconnect time.Duration, filter kindFilter, raw bool, out io.Writer) error {
	p := newPrinter(out)

	loop := eventloop.New()
	loop.Start(ctx)
	defer loop.Stop()

	reasm := stream.New[ksx.Packet](loop, ksx.FrameDecoder, func(pk ksx.Packet) {
		if filter.match(pk.Kind) {
			p.frame(pk, false, loop.Now())
		}
	})

	h := &monitorHandler{loop: loop, reasm: reasm, printer: p, raw: raw}
	link := transport.NewLink(transport.LinkConfig{
		Dialer:            dialer,
		Handler:           h,
		ReconnectInterval: reconnect,
	})

	p.info(loop.Now(), "ksxmon %s, connecting to %s (Ctrl+C to exit)", version, dialer.Endpoint())
	link.Start(ctx)
	<-ctx.Done()
	link.Stop()

	s := reasm.Stats()
	ls := link.Stats()
	fmt.Fprintf(out, "\n%d frames, %d bytes received, %d bytes skipped, %d partial frames cleared\n",
		s.Frames, ls.BytesRx, s.Skipped, s.Cleared)
	return nil
}

// monitorHandler moves link events onto the loop so the reassembler and the
// printer are only touched from one goroutine.
type monitorHandler struct {
	loop    eventloop.Queue
	reasm   *stream.Reassembler[ksx.Packet]
	printer *printer
	raw     bool
}

func (h *monitorHandler) LinkUp(_ io.Writer) {
	h.loop.Post(func() { h.printer.info(h.loop.Now(), "connected") })
}

func (h *monitorHandler) LinkData(p []byte) {
	chunk := bytes.Clone(p)
	h.loop.Post(func() {
		if h.raw {
			h.printer.raw(chunk, h.loop.Now())
		}
		h.reasm.Feed(chunk)
	})
}

func (h *monitorHandler) LinkDown(err error) {
	h.loop.Post(func() {
		h.reasm.Reset()
		h.printer.info(h.loop.Now(), "connection lost: %v", err)
	})
}

// kindFilter selects device kinds; an empty filter matches everything.
type kindFilter map[ksx.Kind]bool

func (f kindFilter) match(k ksx.Kind) bool {
	return len(f) == 0 || f[k]
}

// parseKindFilter accepts kind names ("light") and hex ids ("0E").
func parseKindFilter(values []string) (kindFilter, error) {
	f := kindFilter{}
	for _, v := range values {
		kind, err := parseKind(v)
		if err != nil {
			return nil, err
		}
		f[kind] = true
	}
	return f, nil
}

func parseKind(s string) (ksx.Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for id := 0; id <= 0xFF; id++ {
		k := ksx.Kind(id)
		if k.Known() && k.String() == name {
			return k, nil
		}
	}
	b, err := parseByte(name)
	if err != nil {
		return 0, fmt.Errorf("unknown device kind %q", s)
	}
	return ksx.Kind(b), nil
}
