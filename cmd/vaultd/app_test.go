package main

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	want := map[string]bool{"status": false, "call": false, "config": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "vaultd") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestConfigPathCommandHonorsFlag(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", "/tmp/custom-vaultd.json", "config", "path"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out.String()) != "/tmp/custom-vaultd.json" {
		t.Fatalf("config path output = %q", out.String())
	}
}

func TestExpandPathTilde(t *testing.T) {
	got, err := expandPath("~/vaults")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if strings.HasPrefix(got, "~") || !strings.HasSuffix(got, "/vaults") {
		t.Fatalf("expandPath = %q", got)
	}
}
