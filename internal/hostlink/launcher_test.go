package hostlink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLauncherArgvPrefersCommand(t *testing.T) {
	l := &Launcher{Command: []string{"/usr/bin/myhost", "--vault", "Main"}, URI: "vault://open"}
	argv := l.argv()
	if len(argv) != 3 || argv[0] != "/usr/bin/myhost" {
		t.Fatalf("argv = %v", argv)
	}
}

func TestLauncherArgvEmptyWithoutConfig(t *testing.T) {
	l := &Launcher{}
	if argv := l.argv(); argv != nil {
		t.Fatalf("argv = %v, want nil", argv)
	}
	if err := l.Launch(context.Background()); err == nil {
		t.Fatalf("Launch with no config should fail")
	}
}

func TestLaunchRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "launched")
	l := &Launcher{Command: []string{"touch", marker}}
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("launched command never ran")
}

func TestLaunchMissingBinary(t *testing.T) {
	l := &Launcher{Command: []string{"/nonexistent/vault-host-binary"}}
	if err := l.Launch(context.Background()); err == nil {
		t.Fatalf("Launch of missing binary should fail")
	}
}
