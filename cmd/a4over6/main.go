// Package main provides the CLI entry point for the 4over6 tunnel client.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyricz/a4over6/internal/client"
	"github.com/lyricz/a4over6/internal/config"
	"github.com/lyricz/a4over6/internal/health"
	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/metrics"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "a4over6",
		Short: "a4over6 - 4over6 tunnel client",
		Long: `a4over6 is the client side of a 4over6 tunnel: it carries raw IP
packets between a local virtual network interface and a remote
endpoint over a single TCP connection, with in-band control
messages for address negotiation and liveness.`,
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tunnel client",
		Long:  "Connect to the tunnel server, negotiate an address and forward packets until terminated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, host, port)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			cl := client.New(logger, metrics.Default(), cfg.Device.MTU)

			if cfg.Health.Enabled {
				hs := health.NewServer(health.ServerConfig{
					Address:      cfg.Health.Address,
					ReadTimeout:  10 * time.Second,
					WriteTimeout: 10 * time.Second,
				}, cl)
				if err := hs.Start(); err != nil {
					return fmt.Errorf("failed to start health server: %w", err)
				}
				defer hs.Stop()
				logger.Info("health server listening", logging.KeyAddress, hs.Address().String())
			}

			if err := cl.Open(cfg.Server.Host, cfg.Server.Port); err != nil {
				return fmt.Errorf("failed to open tunnel: %w", err)
			}

			addr := cl.NegotiateAddress()
			if addr == "" {
				return errors.New("address negotiation failed")
			}
			logger.Info("tunnel address assigned", logging.KeyAddress, addr)

			device, err := os.OpenFile(cfg.Device.Path, os.O_RDWR, 0)
			if err != nil {
				cl.Terminate()
				if cn := cl.Conn(); cn != nil {
					cn.Close()
				}
				return fmt.Errorf("failed to open device %s: %w", cfg.Device.Path, err)
			}
			defer device.Close()

			// Terminate on SIGINT/SIGTERM; the pump exits cooperatively.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			done := make(chan struct{})
			go func() {
				select {
				case sig := <-sigCh:
					logger.Info("signal received, terminating", "signal", sig.String())
					cl.Terminate()
					device.Close()
				case <-done:
				}
			}()

			// Drive the heartbeat state machine once per second.
			go func() {
				ticker := time.NewTicker(1 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if status := cl.Tick(); status != "" {
							logger.Debug("tick", "status", status)
						}
					case <-done:
						return
					}
				}
			}()

			cl.RunPump(device)
			close(done)

			logger.Info("tunnel closed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&host, "host", "", "Tunnel server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Tunnel server port (overrides config)")

	return cmd
}

func checkConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK: server %s, device %s (mtu %d)\n",
				cfg.ServerAddr(), cfg.Device.Path, cfg.Device.MTU)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "client.yaml", "Path to configuration file")

	return cmd
}

// loadConfig loads the config file if given and applies flag overrides.
func loadConfig(path, host string, port int) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
