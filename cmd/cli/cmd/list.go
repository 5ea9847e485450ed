package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your attacks",
		Example: `  advctl list --status failed
  advctl list --model default-sentiment-model --sort-by created_at --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			query := url.Values{}
			for flag, param := range map[string]string{
				"model":      "model_id",
				"method":     "attack_method_id",
				"status":     "status",
				"sort-by":    "sort_by",
				"sort-order": "sort_order",
			} {
				if v, _ := flags.GetString(flag); v != "" {
					query.Set(param, v)
				}
			}
			if flags.Changed("success") {
				v, _ := flags.GetBool("success")
				query.Set("attack_success", strconv.FormatBool(v))
			}
			if limit, _ := flags.GetInt("limit"); limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset, _ := flags.GetInt("offset"); offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			page, err := client.ListAttacks(query)
			if err != nil {
				return fmt.Errorf("failed to list attacks: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(page.Attacks) == 0 {
				fmt.Fprintln(out, "No attacks found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODEL\tMETHOD\tSTATUS\tPROGRESS\tCREATED")
			for _, a := range page.Attacks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s ago\n",
					a.ID, a.ModelID, a.AttackMethodID, a.Status, a.ProgressPercentage, relativeTime(a.CreatedAt))
			}
			w.Flush()
			fmt.Fprintf(out, "\nShowing %d of %d (offset %d)\n", len(page.Attacks), page.Total, page.Offset)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("model", "", "Filter by model ID")
	flags.String("method", "", "Filter by attack method ID")
	flags.String("status", "", "Filter by status")
	flags.Bool("success", false, "Filter by attack success")
	flags.String("sort-by", "", "Sort field: created_at, completed_at, model_id or status")
	flags.String("sort-order", "", "Sort order: asc or desc")
	flags.Int("limit", 0, "Maximum number of results")
	flags.Int("offset", 0, "Number of results to skip")
	return cmd
}
