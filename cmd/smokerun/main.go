package main

import (
	"fmt"
	"strings"

	"github.com/loykin/smokerun"
	"github.com/loykin/smokerun/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "smokerun",
	Short: "Run container image smoke-test pipelines defined in YAML",
	Long: `smokerun builds container images, starts them, waits for readiness,
probes HTTP endpoints or SQL databases, and asserts on the captured output.
Pipelines run their stages strictly in file order and abort at the first
failure that is not marked ignorable.`,
	SilenceUsage: true,
}

func init() {
	// Defaults
	v := viper.GetViper()
	v.SetDefault("config", "./pipelines.yaml")
	v.SetDefault("port", "")
	v.SetDefault("v", false)

	// Environment variables support: SMOKERUN_CONFIG, SMOKERUN_PORT, ...
	v.SetEnvPrefix("SMOKERUN")
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", v.GetString("config"), "path to the pipelines yaml")
	rootCmd.PersistentFlags().String("port", v.GetString("port"), "host port published by containers (overrides the PORT variable)")
	rootCmd.PersistentFlags().BoolP("v", "v", v.GetBool("v"), "verbose output (debug logging)")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	_ = v.BindPFlag("v", rootCmd.PersistentFlags().Lookup("v"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadDocument loads the configured pipelines file and applies its logging
// section to the process-wide logger.
func loadDocument() (*smokerun.Document, error) {
	v := viper.GetViper()
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		path = "./pipelines.yaml"
	}

	doc, err := smokerun.LoadPipelines(path)
	if err != nil {
		return nil, err
	}

	logCfg := doc.Global.Logging
	if v.GetBool("v") {
		logCfg.Level = "debug"
	}
	common.SetDefaultLogger(logCfg.Build())
	return doc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		exitHandler.Exit(1)
	}
}
