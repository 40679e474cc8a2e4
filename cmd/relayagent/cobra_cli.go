package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/streamrelay/relayagent/pkg/relay"
	"github.com/streamrelay/relayagent/pkg/status"
)

// envConfig holds the same configuration surface as the `start` flags,
// read from the environment and used as flag defaults so an operator can
// run the agent under a process supervisor without a flags file.
// Explicit flags always win over these.
type envConfig struct {
	URL                string `env:"RELAYAGENT_URL"`
	Password           string `env:"RELAYAGENT_PASSWORD"`
	ID                 string `env:"RELAYAGENT_ID"`
	Name               string `env:"RELAYAGENT_NAME"`
	BindAddress        string `env:"RELAYAGENT_BIND_ADDRESS"`
	StatusExecutable   string `env:"RELAYAGENT_STATUS_EXECUTABLE"`
	StatusFile         string `env:"RELAYAGENT_STATUS_FILE"`
	TrustedCA          string `env:"RELAYAGENT_TRUSTED_CA"`
	InsecureSkipVerify bool   `env:"RELAYAGENT_INSECURE_SKIP_VERIFY"`
}

func loadEnvConfig() envConfig {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: reading RELAYAGENT_* environment: %v\n", err)
	}
	return cfg
}

var flagDebug bool

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ------------------------------------------------------------------
// Root command
// ------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayagent",
		Short: "relayagent — UDP tunnel relay for a remote streamer controller",
		Long: `relayagent bridges a remote streamer controller to a local UDP destination
through an outbound secure WebSocket tunnel. It runs on a host with
privileged or preferred network reachability; the streamer asks it to open
a UDP tunnel on demand, and packets flow through without the streamer
itself needing direct reachability to the destination.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")

	root.AddCommand(newStartCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

// ------------------------------------------------------------------
// `relayagent start` — connect and serve the tunnel until interrupted
// ------------------------------------------------------------------

func newStartCmd() *cobra.Command {
	envCfg := loadEnvConfig()

	var (
		flagURL                string
		flagPassword           string
		flagID                 string
		flagName               string
		flagBindAddress        string
		flagStatusExecutable   string
		flagStatusFile         string
		flagTrustedCA          string
		flagInsecureSkipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "connect to the streamer and serve tunnel requests",
		Long: `Connect outbound to the streamer's control WebSocket, authenticate with the
shared password, and serve StartTunnel/Status requests until interrupted.

Examples:
  relayagent start --url wss://streamer.example.com/relay --password secret
  relayagent start --url wss://streamer.local/relay --password secret --bind-address 192.168.1.50
  relayagent start --url wss://streamer.local/relay --password secret --status-executable /usr/local/bin/battery-status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			var tlsCfg *relay.TLSConfig
			if flagTrustedCA != "" || flagInsecureSkipVerify {
				tlsCfg = &relay.TLSConfig{
					TrustedCAFile:      flagTrustedCA,
					InsecureSkipVerify: flagInsecureSkipVerify,
				}
			}

			r := relay.New(logger)
			err := r.Setup(relay.Config{
				URL:         flagURL,
				Password:    flagPassword,
				ID:          flagID,
				Name:        flagName,
				BindAddress: flagBindAddress,
				TLS:         tlsCfg,
				Status:      status.New(flagStatusExecutable, flagStatusFile),
				OnStatus: func(s string) {
					logger.Info("status", "status", s)
				},
			})
			if err != nil {
				return err
			}

			r.Start()
			defer r.Stop()

			logger.Info("relay started", "url", flagURL)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagURL, "url", envCfg.URL, "streamer control WebSocket URL (required; env RELAYAGENT_URL)")
	cmd.Flags().StringVar(&flagPassword, "password", envCfg.Password, "shared authentication password (required; env RELAYAGENT_PASSWORD)")
	cmd.Flags().StringVar(&flagID, "id", envCfg.ID, "relay identity UUID (generated if omitted; env RELAYAGENT_ID)")
	cmd.Flags().StringVar(&flagName, "name", envCfg.Name, "human-readable relay name (env RELAYAGENT_NAME)")
	cmd.Flags().StringVar(&flagBindAddress, "bind-address", envCfg.BindAddress, "destination-facing UDP bind address (IP or IP:port; default: first non-loopback IPv4; env RELAYAGENT_BIND_ADDRESS)")
	cmd.Flags().StringVar(&flagStatusExecutable, "status-executable", envCfg.StatusExecutable, "program to invoke for Status requests, takes precedence over --status-file (env RELAYAGENT_STATUS_EXECUTABLE)")
	cmd.Flags().StringVar(&flagStatusFile, "status-file", envCfg.StatusFile, "file to read for Status requests (env RELAYAGENT_STATUS_FILE)")
	cmd.Flags().StringVar(&flagTrustedCA, "trusted-ca", envCfg.TrustedCA, "PEM file of CA certificates to trust for the streamer's TLS certificate (env RELAYAGENT_TRUSTED_CA)")
	cmd.Flags().BoolVar(&flagInsecureSkipVerify, "insecure-skip-verify", envCfg.InsecureSkipVerify, "skip TLS certificate verification, development only (env RELAYAGENT_INSECURE_SKIP_VERIFY)")

	if envCfg.URL == "" {
		cmd.MarkFlagRequired("url")
	}
	if envCfg.Password == "" {
		cmd.MarkFlagRequired("password")
	}

	return cmd
}
