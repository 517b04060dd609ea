package hostlink

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"pkt.systems/pslog"

	"github.com/megamem/vaultd/internal/svcfields"
)

// Launcher starts the vault host application through the OS launch mechanism.
// It is best effort: failure to launch never surrenders ownership, it only
// fails the current connect attempt.
type Launcher struct {
	// Command overrides the platform launcher with an explicit argv.
	Command []string
	// URI is handed to the platform opener when Command is empty
	// (e.g. "obsidian://open?vault=Main").
	URI string
	// Logger receives launch attempt logs. Nil means no logging.
	Logger pslog.Logger
}

// Launch spawns the vault host and returns once the process is started. It
// does not wait for the host to become reachable; the connector's handshake
// retries cover that.
func (l *Launcher) Launch(ctx context.Context) error {
	argv := l.argv()
	if len(argv) == 0 {
		return fmt.Errorf("launcher: no command or URI configured")
	}
	log := l.Logger
	if log == nil {
		log = pslog.NoopLogger()
	}
	log = svcfields.WithSubsystem(log, "hostlink.launcher")
	log.Info("launching vault host", "argv", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: start %s: %w", argv[0], err)
	}
	// Detach: the host outlives us and we never collect its exit status.
	go func() { _ = cmd.Wait() }()
	return nil
}

func (l *Launcher) argv() []string {
	if len(l.Command) > 0 {
		return l.Command
	}
	if strings.TrimSpace(l.URI) == "" {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"open", l.URI}
	case "windows":
		return []string{"cmd", "/c", "start", "", l.URI}
	default:
		return []string{"xdg-open", l.URI}
	}
}
