package main

import (
	"bytes"
	"testing"

	"github.com/Gurux/gxserialbridge-go/internal/cli"
)

func TestArgumentErrors(t *testing.T) {
	tests := [][]string{
		{"/dev/ttyS0"},
		{"/dev/ttyS0", "0"},
		{"/dev/ttyS0", "5000", "--parity", "X"},
		{"/dev/ttyS0", "5000", "--stopbits", "3"},
		{"/dev/ttyS0", "5000", "--databits", "4"},
		{"/dev/ttyS0", "5000", "--timeout", "later"},
	}
	for _, args := range tests {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		if code := cli.ExitCode(err); code != cli.ExitUsage {
			t.Errorf("args %q: exit code %d (%v), want %d", args, code, err, cli.ExitUsage)
		}
	}
}
