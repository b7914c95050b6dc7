package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tally/internal/config"
	"tally/internal/format"
)

// cliActor is sent as X-Actor-ID by every API call when set.
var cliActor string

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput bool
		yamlOutput bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "tally",
		Short:         "Tally stores expense attachments and reclaims the files nobody references",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			if yamlOutput {
				formatter, err := format.New("yaml")
				if err != nil {
					return err
				}
				outputFormatter = formatter
				jsonOutput = true
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&yamlOutput, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&cliActor, "actor", "", "actor id sent as X-Actor-ID (default $TALLY_ACTOR_ID)")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg, &jsonOutput),
		newInfoCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
		newExpenseCmd(cfg, &jsonOutput),
		newAttachmentCmd(cfg, &jsonOutput),
		newAdminCmd(cfg, &jsonOutput),
	)

	return cmd
}
