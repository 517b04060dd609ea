package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd"
	"github.com/megamem/vaultd/internal/svcfields"
	vaultdmcp "github.com/megamem/vaultd/mcp"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("VAULTD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "vaultd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// newRootCommand builds the vaultd CLI. The bare command serves MCP over
// stdio, which is how MCP clients are expected to spawn it; everything else
// is a subcommand.
func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("VAULTD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "vaultd shares one vault host channel among many MCP server processes",
		SilenceErrors: true,
		Example: `
  # Serve MCP over stdio (what an MCP client config should invoke)
  vaultd

  # Generate the shared per-vault config with a fresh ownership token
  vaultd config init --vault-path ~/Vaults/Main

  # Show who currently owns the vault channel
  vaultd status

  # Run one operation from the shell
  vaultd call note.read '{"path":"Inbox/Today.md"}'
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := loggerAtLevel(baseLogger, v)
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"starting vaultd",
				"pid", os.Getpid(),
			)
			svc, err := vaultdmcp.NewServer(vaultdmcp.NewServerRequest{
				Config: vaultdmcp.Config{ConfigPath: v.GetString("config")},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "path to the shared vault config file (default: user config dir)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	must(bindFlags(v, pf, "config", "log-level"))

	cmd.AddCommand(newStatusCommand(baseLogger, v))
	cmd.AddCommand(newCallCommand(baseLogger, v))
	cmd.AddCommand(newConfigCommand(baseLogger, v))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func loggerAtLevel(logger pslog.Logger, v *viper.Viper) pslog.Logger {
	if level, ok := pslog.ParseLevel(strings.TrimSpace(v.GetString("log-level"))); ok {
		return logger.LogLevel(level)
	}
	return logger
}

// resolveConfigPath honors --config / VAULTD_CONFIG, falling back to the
// per-user default location.
func resolveConfigPath(v *viper.Viper) (string, error) {
	if p := strings.TrimSpace(v.GetString("config")); p != "" {
		return expandPath(p)
	}
	return vaultd.DefaultConfigPath()
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
