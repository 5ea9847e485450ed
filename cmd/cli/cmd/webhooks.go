package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWebhooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhooks [attack_id]",
		Short: "Show webhook delivery attempts for an attack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			audit, err := client.GetWebhookAttempts(args[0])
			if err != nil {
				return fmt.Errorf("failed to get webhook attempts: %w", err)
			}

			out := cmd.OutOrStdout()
			status := audit.WebhookStatus
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(out, "%sWebhook status:%s %s\n", colorDim, colorReset, status)
			if len(audit.Attempts) == 0 {
				fmt.Fprintln(out, "No delivery attempts.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ATTEMPT\tSUCCESS\tSTATUS\tERROR\tAT")
			for _, a := range audit.Attempts {
				code := "-"
				if a.StatusCode != 0 {
					code = fmt.Sprint(a.StatusCode)
				}
				errText := a.Error
				if errText == "" {
					errText = "-"
				}
				fmt.Fprintf(w, "%d\t%t\t%s\t%s\t%s\n", a.Attempt, a.Success, code, truncate(errText, 60),
					a.AttemptedAt.Format("15:04:05.000"))
			}
			return w.Flush()
		},
	}
}
