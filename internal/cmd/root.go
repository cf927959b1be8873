package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veridict/veridict/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "veridict",
	Short: "Multi-worker document claim extraction and adjudication",
	Long: `Veridict runs a panel of AI workers over a document: independent
extractors pull verifiable claims, auditors cross-check and consolidate
them, judges form opinions and a single arbiter issues the final
decision. Every cited excerpt is verified against the source text and
integrity problems lower the decision's confidence.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/veridict/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/veridict")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VERIDICT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., VERIDICT_PIPELINE_CHUNK_SIZE for pipeline.chunk_size
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
