package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [attack_id]",
		Short: "Cancel a queued or running attack",
		Long:  `Cancel an attack. A queued attack is cancelled immediately; a running attack stops at its next progress checkpoint.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			resp, err := client.CancelAttack(args[0])
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorizeStatus(resp.Status), resp.Message)
			return nil
		},
	}
}
