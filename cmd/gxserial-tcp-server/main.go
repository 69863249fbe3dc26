// Command gxserial-tcp-server shares a serial port with TCP clients.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Gurux/gxcommon-go"
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
	cfg := gxserialbridge.DefaultServerConfig()
	var (
		configFile string
		lang       string
		noGreeting bool
	)
	cmd := &cobra.Command{
		Use:   "gxserial-tcp-server <serial_port> <network_port>",
		Short: "Share a serial port with TCP clients",
		Long: `gxserial-tcp-server opens a serial port and listens for TCP clients. Data
read from the port is sent to every connected client; data from any client
is written to the port.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			return cli.UsageError(cobra.ExactArgs(2)(cmd, args))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ApplyConfigFile(cmd.Flags(), configFile, &cfg); err != nil {
				return err
			}
			cfg.SerialPort = args[0]
			port, err := cli.ParsePort("network port", args[1])
			if err != nil {
				return err
			}
			cfg.NetworkPort = port
			if noGreeting {
				cfg.Greeting = false
			}
			tag, err := cli.ParseLanguage(lang)
			if err != nil {
				return err
			}
			log := cli.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			server, err := gxserialbridge.NewServer(cfg, log)
			if err != nil {
				return err
			}
			server.Localize(tag)
			server.SetOnSerialStateChange(func(p *gxserialbridge.SerialPort, e gxcommon.MediaStateEventArgs) {
				log.Info().Str("port", p.Port).Str("state", e.State().String()).Msg("serial port state")
			})
			if err := cli.Run(server, cmd.OutOrStdout(), log); err != nil {
				var de *gxserialbridge.DeviceError
				if errors.As(err, &de) {
					if perr := server.WritePortList(cmd.ErrOrStderr()); perr != nil {
						log.Debug().Err(perr).Msg("failed to list serial ports")
					}
				}
				return err
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.UsageError(err)
	})
	f := cmd.Flags()
	f.IntVarP(&cfg.BaudRate, "baudrate", "b", cfg.BaudRate, "serial baud rate")
	f.IntVarP(&cfg.DataBits, "databits", "d", cfg.DataBits, "serial data bits (5..8)")
	f.StringVarP(&cfg.Parity, "parity", "p", cfg.Parity, "serial parity (N, E, O, M, S)")
	f.StringVarP(&cfg.StopBits, "stopbits", "s", cfg.StopBits, "serial stop bits (1, 1.5, 2)")
	f.VarP(cli.NewSeconds(&cfg.Timeout), "timeout", "t", "serial write timeout in seconds")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log data previews")
	f.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "maximum number of connected clients")
	f.Float64Var(&cfg.AcceptRate, "accept-rate", cfg.AcceptRate, "new clients admitted per second (0 disables the limit)")
	f.BoolVar(&noGreeting, "no-greeting", false, "do not send the greeting line to new clients")
	f.StringVar(&configFile, "config", "", "YAML configuration file; flags override its values")
	f.StringVar(&lang, "lang", "", "language of console messages (en, de, fi, sv)")
	return cmd
}
