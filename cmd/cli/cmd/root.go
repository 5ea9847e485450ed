package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "advctl",
		Short: "advctl is a command line tool for the advsandbox attack service",
		Long: `advctl is the command-line interface for advsandbox, an asynchronous
adversarial attack sandbox. Attacks run in the background against registered
models; advctl queues them, follows their progress and fetches the results.

Common workflows:

  List the attack methods and models:
    advctl methods
    advctl models list

  Launch an attack and wait for it:
    advctl submit --model default-sentiment-model --method textfooler \
      --input "This movie was great" --target Negative --wait

  Follow an attack:
    advctl status <attack-id> --watch

  Fetch the outcome:
    advctl result <attack-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    ADVSANDBOX_URL            API endpoint (default: http://localhost:6161)
    ADVSANDBOX_TOKEN          Bearer token identifying the caller
    ADVSANDBOX_ADMIN_TOKEN    Operator token for model registry writes`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.advctl.yaml)")

	root.PersistentFlags().String("url", "http://localhost:6161", "advsandbox controller URL")
	viper.BindPFlag("url", root.PersistentFlags().Lookup("url"))

	root.PersistentFlags().StringP("token", "t", "", "Bearer token for authentication")
	viper.BindPFlag("token", root.PersistentFlags().Lookup("token"))

	root.PersistentFlags().String("admin-token", "", "Operator token for model registry writes")
	viper.BindPFlag("admin_token", root.PersistentFlags().Lookup("admin-token"))

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newResultCmd(),
		newCancelCmd(),
		newListCmd(),
		newWebhooksCmd(),
		newModelsCmd(),
		newMethodsCmd(),
		newPredictCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".advctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".advctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "ADVSANDBOX_VARNAME"
	viper.SetEnvPrefix("ADVSANDBOX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

// newClient builds an API client from the resolved configuration.
func newClient() (*AttackClient, error) {
	token := viper.GetString("token")
	if token == "" {
		return nil, fmt.Errorf("API token not found. Please set it using the --token flag or the ADVSANDBOX_TOKEN environment variable")
	}
	return NewAttackClient(viper.GetString("url"), token), nil
}
