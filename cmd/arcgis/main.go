package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/arcgis-client/pkg/logging"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "arcgis",
	Short: "ArcGIS REST service client",
	Long: `A command-line client for ArcGIS REST services.

Inspect FeatureServer, MapServer and ImageServer endpoints, read every record
of a feature layer or table, or run a small HTTP proxy in front of them.`,
	Version:       version + " (" + commit + ")",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.arcgis/config.yml)")
	rootCmd.PersistentFlags().StringP("token", "t", "", "default token for every request")
	rootCmd.PersistentFlags().Bool("ask-token", false, "prompt for the token instead of passing it on the command line")
	rootCmd.PersistentFlags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging (overrides --log-level)")
	rootCmd.PersistentFlags().String("log-level", string(logging.LevelWarn), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("user-agent", "arcgis-client/"+version, "User-Agent header")
	rootCmd.PersistentFlags().String("redis", "", "redis address for the shared metadata cache (empty disables it)")
	rootCmd.PersistentFlags().Int("max-retries", 3, "attempts per request, including the first")
	rootCmd.PersistentFlags().Duration("timeout", defaultRequestTimeout, "timeout of a single HTTP attempt")
	rootCmd.PersistentFlags().Int("concurrency", 4, "parallel page requests per query")
	rootCmd.PersistentFlags().Int("page-size", 1000, "page size when a layer does not advertise maxRecordCount")

	// Bind flags to viper
	for _, name := range []string{
		"config", "token", "ask-token", "output", "verbose", "log-level", "user-agent", "redis",
		"max-retries", "timeout", "concurrency", "page-size",
	} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	// Add commands
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newServeCommand())
}

func initConfig() {
	cfgFile := viper.GetString("config")

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			// Search config in ~/.arcgis/config.yml
			viper.AddConfigPath(filepath.Join(home, ".arcgis"))
		}
		viper.SetConfigType("yml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match, e.g. ARCGIS_TOKEN
	viper.SetEnvPrefix("ARCGIS")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func setupLogging() {
	level := logging.ParseLevel(viper.GetString("log-level"))
	if viper.GetBool("verbose") {
		level = logging.LevelDebug
	}

	logging.Setup(logging.Config{
		Level:  level,
		Pretty: true,
		Output: os.Stderr,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
