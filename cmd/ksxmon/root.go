package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-homenet/internal/transport"
)

// passwordEnv holds the websocket password so it never appears in shell
// history.
const passwordEnv = "KSXMON_PASSWORD"

// connFlags are the line connection flags shared by monitor and scan.
type connFlags struct {
	transport     string
	port          string
	baud          int
	parity        string
	url           string
	username      string
	noSSLVerify   bool
	reconnectSecs int
}

func newRootCmd() *cobra.Command {
	conn := &connFlags{}

	root := &cobra.Command{
		Use:   "ksxmon",
		Short: "KS X 4506 line monitor",
		Long: `ksxmon - A CLI tool for monitoring and probing KS X 4506 home network lines.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600] [--parity none]
  WebSocket: --transport websocket --url ws://host/path [--username user]
  TCP:       --transport tcp --url host:port

For WebSocket authentication, the password is read from the KSXMON_PASSWORD
environment variable, or prompted interactively if not set.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&conn.transport, "transport", "t", config.TransportSerial, "Transport type (serial, websocket, tcp)")
	flags.StringVarP(&conn.port, "port", "p", "/dev/ttyUSB0", "Serial port device")
	flags.IntVarP(&conn.baud, "baud", "b", 9600, "Baud rate (serial only)")
	flags.StringVar(&conn.parity, "parity", "none", "Parity (none, even, odd)")
	flags.StringVarP(&conn.url, "url", "u", "", "WebSocket URL or TCP host:port")
	flags.StringVar(&conn.username, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&conn.noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	flags.IntVar(&conn.reconnectSecs, "reconnect", 2, "Initial reconnect delay in seconds")

	root.AddCommand(
		newMonitorCmd(conn),
		newScanCmd(conn),
		newEncodeCmd(),
		newDecodeCmd(),
		newPortsCmd(),
	)
	return root
}

// transportConfig maps the flags onto the bridge's transport settings.
func (c *connFlags) transportConfig() config.TransportConfig {
	return config.TransportConfig{
		Type:              c.transport,
		Port:              c.port,
		BaudRate:          c.baud,
		Parity:            c.parity,
		URL:               c.url,
		Username:          c.username,
		SkipTLSVerify:     c.noSSLVerify,
		ReconnectInterval: c.reconnectSecs,
	}
}

// dialer builds the dialer, asking for a password when a websocket user
// is given without one.
func (c *connFlags) dialer() (transport.Dialer, error) {
	cfg := c.transportConfig()
	if cfg.Type == config.TransportWebSocket && cfg.Username != "" {
		password, err := readPassword()
		if err != nil {
			return nil, err
		}
		cfg.Password = password
	}
	return transport.NewDialer(cfg)
}

// readPassword reads the password from the environment or the terminal.
func readPassword() (string, error) {
	if password := os.Getenv(passwordEnv); password != "" {
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
