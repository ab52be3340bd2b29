// murmur is a terminal client for a murmur relay.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/murmur/client"
	"github.com/opd-ai/murmur/limits"
	"github.com/opd-ai/murmur/transport"
)

// Config holds the command line configuration
type Config struct {
	Proxy    string
	Timeout  time.Duration
	LogLevel string
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "murmur <host> <port>",
		Short: "Terminal client for a murmur relay",
		Long: `murmur connects to a murmur relay and sends every line read from standard
input. Messages from other clients are printed to standard output and
connection changes to standard error. The client exits at end of input or
when the connection is lost.`,
		Example: `  # Chat through a relay
  murmur relay.example 4000

  # Connect through a local Tor SOCKS5 proxy
  murmur --proxy 127.0.0.1:9050 relay.example 4000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, cfg, args[0], args[1], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&cfg.Proxy, "proxy", "",
		"SOCKS5 proxy host:port")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", transport.DefaultDialTimeout,
		"connection timeout")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "warning",
		"log level (error, warning, info, debug)")

	return cmd
}

func main() {
	rootCmd := newRootCommand()

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}

// lockedWriter serialises writes from the connection goroutine and the
// input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func parseProxy(addr string) (*transport.ProxyConfig, error) {
	if addr == "" {
		return nil, nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid argument %q for --proxy: %v", addr, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid argument %q for --proxy: bad port", addr)
	}
	return &transport.ProxyConfig{Host: host, Port: uint16(p)}, nil
}

func runClient(ctx context.Context, cfg Config, host, port string, stdin io.Reader, stdout, stderr io.Writer) error {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid argument %q: port must be 0-65535", port)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid argument %q for --log-level: %v", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	proxyCfg, err := parseProxy(cfg.Proxy)
	if err != nil {
		return err
	}

	c, err := client.New(&client.Options{
		Dial: transport.DialOptions{
			Timeout: cfg.Timeout,
			Proxy:   proxyCfg,
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	out := &lockedWriter{w: stdout}
	errOut := &lockedWriter{w: stderr}

	lost := make(chan struct{})
	var lostOnce sync.Once

	c.OnMessage(func(msg string) {
		fmt.Fprintln(out, msg)
	})
	c.OnStatus(func(status client.Status, host string) {
		fmt.Fprintf(errOut, "%s %s\n", status, host)
		if status == client.StatusDisconnected {
			lostOnce.Do(func() { close(lost) })
		}
	})

	if err := c.Connect(ctx, host, uint16(p)); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return errors.New("connection lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Send(line)
			switch {
			case err == nil:
			case errors.Is(err, limits.ErrMessageTooLong):
				fmt.Fprintf(errOut, "message not sent: longer than %d bytes\n", limits.MaxMessageLength)
			default:
				return err
			}
		}
	}
}
