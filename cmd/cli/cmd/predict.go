package cmd

import (
	"fmt"

	"advsandbox/pkg/api"

	"github.com/spf13/cobra"
)

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a model on one input without launching an attack",
		Long: `Ask a registered model to label a single input and print its prediction.

Example:
  advctl predict --model default-sentiment-model --input "I loved this film"
  advctl predict --model ts-anomaly-detector --input-json '[10, 12, 250, 11]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			model, _ := flags.GetString("model")
			input, _ := flags.GetString("input")
			inputJSON, _ := flags.GetString("input-json")

			if model == "" {
				return fmt.Errorf("--model is required")
			}
			inputData, err := buildInput(input, inputJSON)
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			pred, err := client.Predict(api.PredictRequest{ModelID: model, InputData: inputData})
			if err != nil {
				return fmt.Errorf("predict failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s: %s (confidence %.4f)\n",
				colorBold, pred.ModelID, colorReset, pred.Prediction, pred.Confidence)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("model", "m", "", "Model ID (required)")
	flags.StringP("input", "i", "", "Input text, or a base64 encoded image")
	flags.String("input-json", "", "Input as raw JSON, e.g. a time series array")
	return cmd
}
