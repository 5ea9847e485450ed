package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"advsandbox/pkg/api"

	"github.com/spf13/cobra"
)

func newResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result [attack_id]",
		Short: "Get the result of a completed attack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.GetResult(args[0])
			if err != nil {
				return fmt.Errorf("failed to get result: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the raw JSON result")
	return cmd
}

func printResult(cmd *cobra.Command, result *api.AttackResultResponse) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%sAttack Result%s\n", colorBold, colorReset)
	fmt.Fprintln(out, "──────────────────────────────")
	fmt.Fprintf(out, "%sID:%s          %s\n", colorDim, colorReset, result.ID)
	fmt.Fprintf(out, "%sMethod:%s      %s\n", colorDim, colorReset, result.AttackMethodID)
	if result.AttackSuccess {
		fmt.Fprintf(out, "%sSuccess:%s     %syes%s\n", colorDim, colorReset, colorGreen, colorReset)
	} else {
		fmt.Fprintf(out, "%sSuccess:%s     %sno%s\n", colorDim, colorReset, colorRed, colorReset)
	}
	fmt.Fprintf(out, "%sOriginal:%s    %s (%.2f)\n", colorDim, colorReset, result.OriginalPrediction, result.OriginalConfidence)
	fmt.Fprintf(out, "%sAdversarial:%s %s (%.2f)\n", colorDim, colorReset, result.AdversarialPrediction, result.AdversarialConfidence)
	fmt.Fprintf(out, "%sExample:%s     %s\n", colorDim, colorReset, truncate(result.AdversarialExample, 120))

	if len(result.Metrics) > 0 {
		fmt.Fprintf(out, "%sMetrics:%s\n", colorDim, colorReset)
		keys := make([]string, 0, len(result.Metrics))
		for k := range result.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, result.Metrics[k])
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
