package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/tvremote/internal/testutil/testlog"
)

func TestCommandPresence(t *testing.T) {
	testlog.Start(t)

	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"watch"},
		{"ops", "list"},
		{"ops", "queue"},
		{"ops", "abort"},
		{"ops", "clear"},
		{"files"},
		{"cg", "show"},
		{"cg", "set"},
		{"cg", "clear"},
		{"config", "init"},
		{"config", "channels"},
	} {
		sub, _, err := cmd.Find(path)
		if err != nil || sub == nil {
			t.Fatalf("command %v missing: %v", path, err)
		}
		if sub.Name() != path[len(path)-1] {
			t.Fatalf("command %v resolved to %q", path, sub.Name())
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	testlog.Start(t)

	cmd := NewRootCommand()
	cases := map[string]string{
		"config":  "tvremotectl.toml",
		"channel": "",
		"address": "",
		"timeout": "10s",
		"format":  "text",
	}
	for name, def := range cases {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Fatalf("flag %q missing", name)
		}
		if flag.DefValue != def {
			t.Fatalf("flag %q default %q, want %q", name, flag.DefValue, def)
		}
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	testlog.Start(t)

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "config", "channels"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func TestGetExitCode(t *testing.T) {
	testlog.Start(t)

	if GetExitCode(nil) != ExitSuccess {
		t.Fatalf("nil should succeed")
	}
	if GetExitCode(errors.New("boom")) != ExitFailure {
		t.Fatalf("plain errors should be failures")
	}
	wrapped := WrapExitError(ExitCommandError, "load config", errors.New("missing"))
	if GetExitCode(wrapped) != ExitCommandError {
		t.Fatalf("unexpected code for %v", wrapped)
	}
	if wrapped.Error() != "load config: missing" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}
