package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd"
	"github.com/megamem/vaultd/dispatch"
)

func newCallCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <operation> [json-args]",
		Short: "Run one vault operation from the shell",
		Long: "Attaches to the vault (joining or winning the owner election), runs one " +
			"operation, prints the JSON result, and detaches.\n\nOperations:\n  " +
			strings.Join(dispatch.Operations(), "\n  "),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			op := strings.TrimSpace(args[0])
			rawArgs := json.RawMessage("{}")
			if len(args) == 2 {
				rawArgs = json.RawMessage(args[1])
			}
			cfgPath, err := resolveConfigPath(v)
			if err != nil {
				return err
			}
			cfg, err := vaultd.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			session, err := vaultd.Connect(cmd.Context(), cfg,
				vaultd.WithSessionLogger(loggerAtLevel(baseLogger, v)))
			if err != nil {
				return err
			}
			defer session.Close()

			result, err := session.Do(cmd.Context(), op, rawArgs)
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, result, "", "  "); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", pretty.Bytes())
			return nil
		},
	}
	return cmd
}
