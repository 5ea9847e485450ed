package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List available attack methods and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			methods, err := client.ListMethods()
			if err != nil {
				return fmt.Errorf("failed to list attack methods: %w", err)
			}

			out := cmd.OutOrStdout()
			for i, m := range methods {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s%s%s (%s)\n", colorBold, m.ID, colorReset, m.Name)
				fmt.Fprintf(out, "  %s\n", m.Description)
				fmt.Fprintf(out, "  %sModalities:%s %s  %sTimeout:%s %.0fs\n", colorDim, colorReset,
					strings.Join(m.Modalities, ", "), colorDim, colorReset, m.DefaultTimeoutSeconds)
				for _, p := range m.Parameters {
					fmt.Fprintf(out, "  - %s [%g..%g, default %g]: %s\n", p.Name, p.Min, p.Max, p.Default, p.Description)
				}
			}
			return nil
		},
	}
}
