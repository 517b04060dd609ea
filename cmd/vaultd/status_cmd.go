package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd"
	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/client"
)

func newStatusCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current owner of the vault channel, if any",
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
			bridge, err := client.New(cfg.ListenerAddr(), cfg.OwnershipToken,
				client.WithLogger(loggerAtLevel(baseLogger, v)))
			if err != nil {
				return err
			}
			defer bridge.Close()

			out := cmd.OutOrStdout()
			health, err := bridge.Health(cmd.Context())
			if err != nil {
				if api.IsKind(err, api.KindAuth) {
					return fmt.Errorf("an owner is listening on %s but rejects this token; the shared config has diverged", cfg.ListenerAddr())
				}
				fmt.Fprintf(out, "vault %s: no owner (port %d free)\n", cfg.VaultIdentity(), cfg.ListenerPort)
				fmt.Fprintln(out, "the next process to attach will bind the port and own the vault host channel")
				return nil
			}

			bound := time.Now().Add(-time.Duration(health.UptimeSeconds) * time.Second)
			fmt.Fprintf(out, "vault:            %s\n", health.VaultIdentity)
			fmt.Fprintf(out, "owner pid:        %d (instance %s)\n", health.PID, health.InstanceID)
			fmt.Fprintf(out, "owner since:      %s\n", humanize.Time(bound))
			fmt.Fprintf(out, "listener:         %s\n", cfg.ListenerAddr())
			fmt.Fprintf(out, "host channel:     %s\n", health.ConnectionState)
			fmt.Fprintf(out, "relays in flight: %d\n", health.ActiveRelayCount)
			return nil
		},
	}
	return cmd
}
