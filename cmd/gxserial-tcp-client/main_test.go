package main

import (
	"bytes"
	"testing"

	"github.com/Gurux/gxserialbridge-go/internal/cli"
)

func TestArgumentErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"localhost"},
		{"localhost", "notaport"},
		{"localhost", "70000"},
		{"localhost", "5000", "--device", "relative/path"},
		{"localhost", "5000", "--no-such-flag"},
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
