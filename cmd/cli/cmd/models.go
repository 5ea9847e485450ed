package cmd

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"advsandbox/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and manage the model registry",
	}
	cmd.AddCommand(newModelsListCmd(), newModelsRegisterCmd(), newModelsSetStatusCmd())
	return cmd
}

func newModelsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if v, _ := cmd.Flags().GetString("type"); v != "" {
				query.Set("type", v)
			}
			if v, _ := cmd.Flags().GetString("status"); v != "" {
				query.Set("status", v)
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			page, err := client.ListModels(query)
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(page.Models) == 0 {
				fmt.Fprintln(out, "No models found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tVERSION\tSTATUS\tNAME")
			for _, m := range page.Models {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Type, m.Version, m.Status, m.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("type", "", "Filter by model type: NLP, CV or TimeSeries")
	cmd.Flags().String("status", "", "Filter by status")
	return cmd
}

func newModelsRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a model",
		Example: `  advctl models register --id my-model --name "My Model" --type NLP --version 1.0.0 \
    --artifact-url s3://models/my-model.json --admin-token $OPS_TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req := api.RegisterModelRequest{}
			req.ID, _ = flags.GetString("id")
			req.Name, _ = flags.GetString("name")
			req.Type, _ = flags.GetString("type")
			req.Version, _ = flags.GetString("version")
			req.Description, _ = flags.GetString("description")
			req.ArtifactURL, _ = flags.GetString("artifact-url")
			req.Metadata, _ = flags.GetStringToString("metadata")

			for _, required := range []struct{ flag, value string }{
				{"id", req.ID}, {"name", req.Name}, {"type", req.Type}, {"version", req.Version},
			} {
				if required.value == "" {
					return fmt.Errorf("--%s is required", required.flag)
				}
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			client.AdminToken = viper.GetString("admin_token")

			model, err := client.RegisterModel(req)
			if err != nil {
				return fmt.Errorf("register failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Model registered!\nModel ID: %s\nStatus: %s\n", model.ID, model.Status)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("id", "", "Model ID (required)")
	flags.String("name", "", "Display name (required)")
	flags.String("type", "", "Model type: NLP, CV or TimeSeries (required)")
	flags.String("version", "", "Model version (required)")
	flags.String("description", "", "Model description")
	flags.String("artifact-url", "", "Artifact location, e.g. s3://bucket/key.json")
	flags.StringToString("metadata", nil, "Metadata as key=value (repeatable)")
	return cmd
}

func newModelsSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status [model_id] [status]",
		Short: "Change a model's lifecycle status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			client.AdminToken = viper.GetString("admin_token")

			model, err := client.UpdateModelStatus(args[0], args[1])
			if err != nil {
				return fmt.Errorf("status update failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s is now %s\n", model.ID, model.Status)
			return nil
		},
	}
}
