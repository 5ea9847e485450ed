package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"advsandbox/pkg/api"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Launch an attack",
		Long: `Queue an adversarial attack against a registered model.

Text and base64 image inputs are passed with --input; structured inputs such
as a time series are passed verbatim as JSON with --input-json.

Example:
  advctl submit --model default-sentiment-model --method textfooler \
    --input "This movie was absolutely amazing" --target Negative \
    --param num_words_to_change=2 --wait
  advctl submit --model ts-anomaly-detector --method timeseries-shift \
    --input-json '[10, 12, 11, 13]' --callback http://localhost:8003/webhook-receiver`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			model, _ := flags.GetString("model")
			method, _ := flags.GetString("method")
			input, _ := flags.GetString("input")
			inputJSON, _ := flags.GetString("input-json")
			target, _ := flags.GetString("target")
			params, _ := flags.GetStringToString("param")
			callback, _ := flags.GetString("callback")
			wait, _ := flags.GetBool("wait")
			interval, _ := flags.GetDuration("interval")

			if model == "" {
				return fmt.Errorf("--model is required")
			}
			if method == "" {
				return fmt.Errorf("--method is required")
			}
			inputData, err := buildInput(input, inputJSON)
			if err != nil {
				return err
			}
			attackParams, err := parseParams(params)
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			launch, err := client.SubmitAttack(api.SubmitAttackRequest{
				ModelID:          model,
				AttackMethodID:   method,
				InputData:        inputData,
				TargetLabel:      target,
				AttackParameters: attackParams,
				CallbackURL:      callback,
			})
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Attack queued!\nAttack ID: %s\nEstimated completion: %ds\n",
				launch.AttackID, launch.EstimatedCompletionTimeSeconds)

			if !wait {
				return nil
			}
			status, err := watchStatus(cmd, client, launch.AttackID, interval)
			if err != nil {
				return err
			}
			if status.Status != "completed" {
				return nil
			}
			result, err := client.GetResult(launch.AttackID)
			if err != nil {
				return fmt.Errorf("failed to fetch result: %w", err)
			}
			printResult(cmd, result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("model", "m", "", "Model ID to attack (required)")
	flags.StringP("method", "a", "", "Attack method ID (required)")
	flags.StringP("input", "i", "", "Input text, or a base64 encoded image")
	flags.String("input-json", "", "Input as raw JSON, e.g. a time series array")
	flags.String("target", "", "Target label for targeted attacks")
	flags.StringToString("param", nil, "Attack parameter as name=value (repeatable)")
	flags.String("callback", "", "Webhook URL notified on completion")
	flags.Bool("wait", false, "Wait for the attack to finish and print the result")
	flags.Duration("interval", 2*time.Second, "Polling interval used with --wait")
	return cmd
}

// buildInput turns the input flags into the JSON input_data field.
func buildInput(input, inputJSON string) (json.RawMessage, error) {
	switch {
	case input != "" && inputJSON != "":
		return nil, fmt.Errorf("--input and --input-json are mutually exclusive")
	case inputJSON != "":
		if !json.Valid([]byte(inputJSON)) {
			return nil, fmt.Errorf("--input-json is not valid JSON")
		}
		return json.RawMessage(inputJSON), nil
	case input != "":
		return json.Marshal(input)
	default:
		return nil, fmt.Errorf("one of --input or --input-json is required")
	}
}

func parseParams(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]float64, len(raw))
	for _, name := range names {
		v, err := strconv.ParseFloat(raw[name], 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not a number", name, raw[name])
		}
		params[name] = v
	}
	return params, nil
}
