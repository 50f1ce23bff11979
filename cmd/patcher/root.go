// Package main implements the patcher CLI front end: a thin Cobra
// wrapper over package patch that loads a target assembly and one or
// more plug assemblies through metadataio, invokes patch.Run, and
// writes the result back in place.
package main

import (
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	logger   *log.Helper
)

var rootCmd = &cobra.Command{
	Use:   "patcher",
	Short: "Patch a target .NET assembly from one or more plug assemblies",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(parseLevel(logLevel))))
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: patcher.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(patchCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("patcher")
	}
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // a missing config file is fine; flags stand alone
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func main() {
	Execute()
}
