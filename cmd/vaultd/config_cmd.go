package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd"
	"github.com/megamem/vaultd/internal/svcfields"
)

func newConfigCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the shared per-vault configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(baseLogger, v))
	cmd.AddCommand(newConfigShowCommand(v))
	cmd.AddCommand(newConfigPathCommand(v))
	return cmd
}

func newConfigInitCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	var vaultPath string
	var listenerPort, hostPort int
	var launchURI string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a fresh config with a newly generated ownership token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if strings.TrimSpace(vaultPath) == "" {
				return fmt.Errorf("--vault-path is required")
			}
			expanded, err := expandPath(vaultPath)
			if err != nil {
				return err
			}
			cfgPath, err := resolveConfigPath(v)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite (this rotates the token)", cfgPath)
			}
			cfg := vaultd.Config{
				ListenerPort:     listenerPort,
				HostPort:         hostPort,
				OwnershipToken:   vaultd.NewOwnershipToken(),
				DefaultVaultPath: expanded,
				HostLaunchURI:    launchURI,
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(cfgPath); err != nil {
				return err
			}
			svcfields.WithSubsystem(loggerAtLevel(baseLogger, v), "cli.config").Info(
				"config written",
				"path", cfgPath,
				"vault", cfg.VaultIdentity(),
				"listener_port", cfg.ListenerPort,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (vault identity %s)\n", cfgPath, cfg.VaultIdentity())
			fmt.Fprintln(cmd.OutOrStdout(), "point the vault host plugin at the same file so both sides share the token")
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultPath, "vault-path", "", "vault root directory (required)")
	cmd.Flags().IntVar(&listenerPort, "listener-port", vaultd.DefaultListenerPort, "well-known ownership listener port")
	cmd.Flags().IntVar(&hostPort, "host-port", vaultd.DefaultHostPort, "vault host channel port")
	cmd.Flags().StringVar(&launchURI, "launch-uri", "", "URI opened to start the vault host when it is not running")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config, rotating the token")
	return cmd
}

func newConfigShowCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with the token redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfgPath, err := resolveConfigPath(v)
			if err != nil {
				return err
			}
			cfg, err := vaultd.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:          %s\n", cfgPath)
			fmt.Fprintf(out, "vault path:      %s\n", cfg.DefaultVaultPath)
			fmt.Fprintf(out, "vault identity:  %s\n", cfg.VaultIdentity())
			fmt.Fprintf(out, "listener port:   %d\n", cfg.ListenerPort)
			fmt.Fprintf(out, "host port:       %d\n", cfg.HostPort)
			fmt.Fprintf(out, "token:           %s\n", redactToken(cfg.OwnershipToken))
			if cfg.HostLaunchURI != "" {
				fmt.Fprintf(out, "launch uri:      %s\n", cfg.HostLaunchURI)
			}
			return nil
		},
	}
}

func newConfigPathCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfgPath, err := resolveConfigPath(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
			return nil
		},
	}
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "(set)"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
