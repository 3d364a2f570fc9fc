package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
)

// Output styles
var (
	rxStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	txStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	addressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

const timeLayout = "15:04:05.000"

// printer writes one line per event. Styles apply only on a terminal.
type printer struct {
	out    io.Writer
	styled bool
}

func newPrinter(out io.Writer) *printer {
	f, ok := out.(*os.File)
	return &printer{out: out, styled: ok && term.IsTerminal(int(f.Fd()))}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// frame prints a decoded packet.
func (p *printer) frame(pk ksx.Packet, tx bool, at time.Time) {
	dir := p.style(rxStyle, "RX")
	if tx {
		dir = p.style(txStyle, "TX")
	}
	fmt.Fprintf(p.out, "%s %s %s\n", p.style(dimStyle, at.Format(timeLayout)), dir, p.describe(pk))
}

// describe renders the fields of a packet followed by its raw bytes.
func (p *printer) describe(pk ksx.Packet) string {
	var sb strings.Builder
	sb.WriteString(p.style(addressStyle, pk.Address().String()))
	fmt.Fprintf(&sb, " %-18s %-20s", pk.Kind, pk.Command)
	if len(pk.Data) > 0 {
		fmt.Fprintf(&sb, " data=[%s]", ksx.HexString(pk.Data))
	}
	sb.WriteString(" ")
	sb.WriteString(p.style(dimStyle, pk.String()))
	return sb.String()
}

// raw prints received bytes before reassembly.
func (p *printer) raw(chunk []byte, at time.Time) {
	fmt.Fprintf(p.out, "%s %s %s\n", p.style(dimStyle, at.Format(timeLayout)), p.style(dimStyle, ".."), ksx.HexString(chunk))
}

// info prints a status line.
func (p *printer) info(at time.Time, format string, args ...any) {
	fmt.Fprintf(p.out, "%s -- %s\n", p.style(dimStyle, at.Format(timeLayout)), fmt.Sprintf(format, args...))
}

// errorf prints an error line.
func (p *printer) errorf(format string, args ...any) {
	fmt.Fprintln(p.out, p.style(errorStyle, fmt.Sprintf(format, args...)))
}
