// Command gxserial-echo publishes a virtual serial device that echoes every
// byte back. It is useful for testing gxserial-tcp-client without hardware.
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
	cfg := gxserialbridge.DefaultEchoConfig()
	var lang string
	cmd := &cobra.Command{
		Use:           "gxserial-echo <device_path>",
		Short:         "Publish a virtual serial device that echoes its input",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			return cli.UsageError(cobra.ExactArgs(1)(cmd, args))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.DevicePath = args[0]
			tag, err := cli.ParseLanguage(lang)
			if err != nil {
				return err
			}
			log := cli.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			echo, err := gxserialbridge.NewEcho(cfg, log)
			if err != nil {
				return err
			}
			echo.Localize(tag)
			return cli.Run(echo, cmd.OutOrStdout(), log)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.UsageError(err)
	})
	f := cmd.Flags()
	f.IntVarP(&cfg.BaudRate, "baudrate", "b", cfg.BaudRate, "baud rate shown in the banner")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log every echoed chunk")
	f.StringVar(&lang, "lang", "", "language of console messages (en, de, fi, sv)")
	return cmd
}
