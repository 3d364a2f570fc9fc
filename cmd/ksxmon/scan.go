package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
	"github.com/nerrad567/gray-logic-homenet/internal/discovery"
	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
	"github.com/nerrad567/gray-logic-homenet/internal/transport"
)

// defaultScanAddresses covers the groups most wallpads use.
var defaultScanAddresses = []string{"::0E1F", "::0E2F", "::121F", "::131F", "::361F"}

type scanOptions struct {
	timeout time.Duration
	frames  bool
}

func newScanCmd(conn *connFlags) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [ADDRESS...]",
		Short: "Look for devices by sending characteristic requests",
		Long: `Ping candidate addresses with characteristic requests until each has
answered or the timeout passes, then list the devices that answered.

Group addresses ("::0E1F") find every device of that group.

Example:
  ksxmon scan ::0E1F ::121F --timeout 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultScanAddresses
			}
			specs, err := scanSpecs(args)
			if err != nil {
				return err
			}
			dialer, err := conn.dialer()
			if err != nil {
				return err
			}
			found, err := runScan(cmd.Context(), dialer, specs, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d device(s) found\n", found)
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Scan deadline")
	cmd.Flags().BoolVar(&opts.frames, "frames", false, "Print every frame sent and received")
	return cmd
}

func scanSpecs(args []string) ([]ksx.DeviceSpec, error) {
	specs := make([]ksx.DeviceSpec, 0, len(args))
	for _, a := range args {
		addr, err := ksx.ParseAddress(a)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ksx.DeviceSpec{Address: addr})
	}
	return specs, nil
}

// runScan connects, runs one discovery scan and prints each device that
// answers.
//
// Returns:
//   - int: Number of devices found
//   - error: If the scan cannot start or ctx ends before the line connects
func runScan(ctx context.Context, dialer transport.Dialer, specs []ksx.DeviceSpec, opts *scanOptions, out io.Writer) (int, error) {
	p := newPrinter(out)

	loop := eventloop.New()
	loop.Start(ctx)
	defer loop.Stop()

	network := ksx.NewNetwork(loop)
	if opts.frames {
		network.SetFrameHook(func(pk ksx.Packet, tx bool) { p.frame(pk, tx, loop.Now()) })
	}

	found := 0
	done := make(chan struct{})
	network.SetDiscoveryCallbacks(discovery.Callbacks[*ksx.DeviceContext]{
		Started: func() { p.info(loop.Now(), "scanning %d candidate(s)", len(specs)) },
		Discovered: func(dc *ksx.DeviceContext) {
			found++
			fmt.Fprintf(out, "%s %-18s %s\n", p.style(addressStyle, dc.Address().String()), dc.Kind(), characteristics(dc))
		},
		Finished: func() { close(done) },
	})

	h := &scanHandler{LinkHandler: network.LinkHandler(), net: network, specs: specs, timeout: opts.timeout, errc: make(chan error, 1)}
	link := transport.NewLink(transport.LinkConfig{Dialer: dialer, Handler: h})
	link.Start(ctx)
	defer link.Stop()

	select {
	case <-done:
		// found is only written on the loop; read it there.
		result := make(chan int, 1)
		loop.Post(func() { result <- found })
		select {
		case n := <-result:
			return n, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	case err := <-h.errc:
		return 0, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, errors.New("scan interrupted")
		}
		return 0, ctx.Err()
	}
}

// characteristics lists the non-common properties a device reported.
func characteristics(dc *ksx.DeviceContext) string {
	var parts []string
	for _, v := range dc.Properties().All() {
		if strings.HasPrefix(v.Name(), "0.") {
			continue
		}
		parts = append(parts, v.Name()+"="+v.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// scanHandler starts the scan once the first connection is attached.
type scanHandler struct {
	*ksx.LinkHandler
	net     *ksx.Network
	specs   []ksx.DeviceSpec
	timeout time.Duration
	started bool
	errc    chan error
}

func (h *scanHandler) LinkUp(w io.Writer) {
	h.LinkHandler.LinkUp(w)
	// Posted after the attach above, so the network has a stream.
	h.net.Post(func() {
		if h.started {
			return
		}
		h.started = true
		if err := h.net.StartDiscovery(h.timeout, h.specs); err != nil {
			h.errc <- fmt.Errorf("starting scan: %w", err)
		}
	})
}
