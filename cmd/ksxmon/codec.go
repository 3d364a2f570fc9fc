package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
)

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode ADDRESS COMMAND [DATA...]",
		Short: "Build a frame with both checksums",
		Long: `Build a frame from an address, a command byte and optional payload bytes,
and print it in hex.

Example:
  ksxmon encode ::0E11 41 01    # light 1 of group 1 on`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := encodeArgs(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ksx.HexString(frame))
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode HEX...",
		Short: "Decode frames from hex bytes",
		Long: `Decode every frame found in the given bytes. Bytes may be separated by
spaces, commas or nothing, with or without a 0x prefix. Garbage between
frames is skipped and reported.

Example:
  ksxmon decode F7 0E 11 81 03 01 00 00 6B 06`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := parseHexBytes(strings.Join(args, " "))
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			if decodeAll(buf, p) == 0 {
				return errors.New("no valid frame found")
			}
			return nil
		},
	}
}

// encodeArgs turns ADDRESS COMMAND [DATA...] into a frame.
func encodeArgs(args []string) ([]byte, error) {
	addr, err := ksx.ParseAddress(args[0])
	if err != nil {
		return nil, err
	}
	cmdByte, err := parseByte(args[1])
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	var data []byte
	if len(args) > 2 {
		data, err = parseHexBytes(strings.Join(args[2:], " "))
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
	}
	return ksx.NewPacket(addr, ksx.Command(cmdByte), data...).Encode()
}

// decodeAll prints every frame in buf and returns how many were valid.
func decodeAll(buf []byte, p *printer) int {
	frames := 0
	skipped := 0
	flushSkipped := func() {
		if skipped > 0 {
			p.errorf("skipped %d byte(s) without a valid frame", skipped)
			skipped = 0
		}
	}

	for len(buf) > 0 {
		pk, n, err := ksx.Decode(buf)
		switch {
		case err == nil:
			flushSkipped()
			fmt.Fprintln(p.out, p.describe(pk))
			frames++
			buf = buf[n:]
		case errors.Is(err, ksx.ErrNeedMoreData):
			flushSkipped()
			p.errorf("incomplete frame: %s", ksx.HexString(buf))
			return frames
		case errors.Is(err, ksx.ErrChecksum):
			flushSkipped()
			p.errorf("%v", err)
			buf = buf[1:]
		default:
			skipped++
			buf = buf[1:]
		}
	}
	flushSkipped()
	return frames
}

// parseHexBytes accepts "F7 0E", "F70E", "0xF7,0x0E" and mixes of those.
func parseHexBytes(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == '\t' || r == '\n'
	})
	var sb strings.Builder
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		if len(f)%2 == 1 {
			f = "0" + f
		}
		sb.WriteString(f)
	}
	out, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return out, nil
}

// parseByte parses one hex byte such as "41" or "0x41".
func parseByte(s string) (byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %w", s, err)
	}
	return byte(v), nil
}
