// Command gxserial-tcp-client publishes a virtual serial device and relays
// it to a remote TCP server, reconnecting when the connection drops.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Gurux/gxserialbridge-go"
	"github.com/Gurux/gxserialbridge-go/internal/cli"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	cfg := gxserialbridge.DefaultClientConfig()
	var (
		configFile string
		lang       string
	)
	cmd := &cobra.Command{
		Use:   "gxserial-tcp-client <server_host> <server_port>",
		Short: "Relay a virtual serial device to a TCP server",
		Long: `gxserial-tcp-client creates a pseudo-terminal, optionally published under a
stable path, and forwards every byte written to it to the TCP server. Bytes
from the server are written back to the device. A lost connection is
re-established with exponential backoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			return cli.UsageError(cobra.ExactArgs(2)(cmd, args))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ApplyConfigFile(cmd.Flags(), configFile, &cfg); err != nil {
				return err
			}
			cfg.Host = args[0]
			port, err := cli.ParsePort("server port", args[1])
			if err != nil {
				return err
			}
			cfg.Port = port
			tag, err := cli.ParseLanguage(lang)
			if err != nil {
				return err
			}
			log := cli.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			client, err := gxserialbridge.NewClient(cfg, gxserialbridge.WithClientLogger(log))
			if err != nil {
				return err
			}
			client.Localize(tag)
			return cli.Run(client, cmd.OutOrStdout(), log)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.UsageError(err)
	})
	f := cmd.Flags()
	f.StringVarP(&cfg.DevicePath, "device", "d", cfg.DevicePath, "publish the virtual device at this absolute path")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log state transitions and data previews")
	f.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect", cfg.MaxReconnectAttempts, "consecutive reconnect attempts before giving up")
	f.Var(cli.NewSeconds(&cfg.ReconnectDelay), "reconnect-delay", "initial reconnect delay in seconds")
	f.Var(cli.NewSeconds(&cfg.ConnectTimeout), "connect-timeout", "connect timeout in seconds")
	f.StringVar(&configFile, "config", "", "YAML configuration file; flags override its values")
	f.StringVar(&lang, "lang", "", "language of console messages (en, de, fi, sv)")
	return cmd
}
