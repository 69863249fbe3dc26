// Package cli holds the plumbing shared by the bridge commands: logging
// setup, config file merging, signal handling and exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/text/language"

	"github.com/Gurux/gxserialbridge-go"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Bridge is one runnable bridge role.
type Bridge interface {
	Start() error
	Stop()
	Done() <-chan struct{}
	WriteBanner(w io.Writer)
	Localize(tag language.Tag)
}

// NewLogger returns a console logger on w. Debug output is enabled when
// verbose is set.
func NewLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// ParseLanguage parses a BCP 47 tag. An empty value selects English.
func ParseLanguage(value string) (language.Tag, error) {
	if value == "" {
		return language.AmericanEnglish, nil
	}
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, &gxserialbridge.ConfigurationError{Field: "language", Value: value, Err: err}
	}
	return tag, nil
}

// ApplyConfigFile decodes the YAML file at path into cfg and then re-applies
// every flag the user set explicitly, so the command line wins over the
// file. Flags must already be bound to fields of cfg.
func ApplyConfigFile(flags *pflag.FlagSet, path string, cfg any) error {
	if path == "" {
		return nil
	}
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := gxserialbridge.LoadConfigFile(path, cfg); err != nil {
		return err
	}
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return &gxserialbridge.ConfigurationError{Field: name, Value: value, Err: err}
		}
	}
	return nil
}

// ParsePort parses a TCP port argument.
func ParsePort(field, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, &gxserialbridge.ConfigurationError{Field: field, Value: value, Err: err}
	}
	return port, nil
}

// Run starts b, prints its banner and blocks until SIGINT or SIGTERM
// arrives or the bridge stops on its own. The bridge is always stopped
// before Run returns. Signals received during the stop are absorbed.
func Run(b Bridge, out io.Writer, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Start(); err != nil {
		return err
	}
	b.WriteBanner(out)
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case <-b.Done():
	}
	b.Stop()
	return nil
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *gxserialbridge.ConfigurationError
	if errors.As(err, &ce) || isUsageError(err) {
		return ExitUsage
	}
	return ExitFailure
}

// usageError marks argument errors reported by the command parser.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

// UsageError wraps a command line parsing error so it maps to ExitUsage.
func UsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue)
}

// Seconds is a flag value holding a duration. It accepts plain seconds
// ("1", "0.5") as well as Go duration strings ("1500ms").
type Seconds struct {
	d *time.Duration
}

// NewSeconds binds a Seconds flag value to d.
func NewSeconds(d *time.Duration) *Seconds {
	return &Seconds{d: d}
}

func (s *Seconds) String() string {
	if s.d == nil {
		return "0"
	}
	return strconv.FormatFloat(s.d.Seconds(), 'f', -1, 64)
}

// Set implements pflag.Value.
func (s *Seconds) Set(value string) error {
	value = strings.TrimSpace(value)
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		if f < 0 {
			return fmt.Errorf("negative duration %q", value)
		}
		*s.d = time.Duration(f * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative duration %q", value)
	}
	*s.d = d
	return nil
}

// Type implements pflag.Value.
func (s *Seconds) Type() string {
	return "seconds"
}
