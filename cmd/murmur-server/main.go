// murmur-server runs the murmur group-chat relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/murmur/config"
	"github.com/opd-ai/murmur/internal/instrument"
	"github.com/opd-ai/murmur/relay"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	Capacity   int
	LogLevel   string
	Metrics    string
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "murmur-server <port>",
		Short: "Encrypted group-chat relay",
		Long: `murmur-server accepts up to a fixed number of clients and rebroadcasts
every message it receives, prefixed with the sender's label, to all other
connected clients. Each hop is encrypted with a fresh Curve25519 keypair.

When every slot is taken, new connections wait until a client leaves.`,
		Example: `  # Relay on port 4000 with the defaults
  murmur-server 4000

  # Use a configuration file, overriding its capacity
  murmur-server -f /etc/murmur/server.toml --capacity 8 4000

  # Expose Prometheus metrics
  murmur-server --metrics 127.0.0.1:9100 4000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cmd, cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "",
		"path to the server configuration file (TOML format)")
	cmd.Flags().IntVar(&cfg.Capacity, "capacity", 0,
		"maximum number of connected clients")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "",
		"log level (ERROR, WARNING, INFO, DEBUG)")
	cmd.Flags().StringVar(&cfg.Metrics, "metrics", "",
		"host:port to serve Prometheus metrics on")

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

// loadConfig reads the configuration file, if any, and applies the command
// line overrides.
func loadConfig(cmd *cobra.Command, cfg Config, port string) (*config.Config, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid argument %q: port must be 0-65535", port)
	}

	serverCfg := config.Default()
	if cfg.ConfigFile != "" {
		serverCfg, err = config.LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
		}
	}

	if err := serverCfg.Server.SetPort(uint16(p)); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("capacity") {
		serverCfg.Server.Capacity = cfg.Capacity
	}
	if cfg.LogLevel != "" {
		serverCfg.Logging.Level = cfg.LogLevel
	}
	if cfg.Metrics != "" {
		serverCfg.Metrics.Address = cfg.Metrics
	}

	if err := serverCfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return serverCfg, nil
}

func runServer(ctx context.Context, cmd *cobra.Command, cfg Config, port string) error {
	serverCfg, err := loadConfig(cmd, cfg, port)
	if err != nil {
		return err
	}
	if err := serverCfg.Logging.Apply(); err != nil {
		return err
	}

	if serverCfg.Metrics.Address != "" {
		metrics, err := instrument.Listen(serverCfg.Metrics.Address)
		if err != nil {
			return fmt.Errorf("failed to start metrics listener: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx)
		}()
	}

	srv, err := relay.Listen(serverCfg.Server.Address, serverCfg.Server.Options())
	if err != nil {
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "runServer",
		"address":  srv.Addr().String(),
		"capacity": serverCfg.Server.Capacity,
		"version":  versioninfo.Short(),
	}).Info("Starting murmur relay")

	// Run until SIGINT/SIGTERM.
	return srv.Run(ctx)
}
