package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/config"
)

var (
	configPath string
	handlerArg string
	apiAddr    string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pulsar",
		Short:        "Pulsar - runtime interface client for Nova functions",
		Long:         "Pulsar polls the runtime API for invocations, runs the registered Go handler and reports results, buffered or streamed.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&handlerArg, "handler", "", "Handler as module.function (overrides _HANDLER)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Runtime API address (overrides AWS_LAMBDA_RUNTIME_API)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Runtime diagnostics level")

	rootCmd.AddCommand(
		runCmd(),
		emulateCmd(),
		handlersCmd(),
		recordsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if handlerArg != "" {
		cfg.Runtime.Handler = handlerArg
	}
	if apiAddr != "" {
		cfg.Runtime.API = apiAddr
	}
	if logLevel != "" {
		cfg.Log.OpLevel = logLevel
	}
	return cfg, nil
}
