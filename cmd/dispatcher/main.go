package main

import (
	"os"

	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dispatcher",
		Short:        "In-process log dispatcher tools",
		Long:         "Runs the dispatcher throughput benchmark and inspects mapped log buffer files.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (yaml or json), falls back to CONFIG_PATH")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("dispatcher", "", "name of a configured dispatcher, defaults to the top level one")

	rootCmd.AddCommand(newBenchCommand())
	rootCmd.AddCommand(newInspectCommand())
	return rootCmd
}

// loadConfig reads the config named by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = util.ParseLogLevel(level)
		util.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

// dispatcherName resolves --dispatcher against the loaded config.
func dispatcherName(cmd *cobra.Command, cfg *config.Config) string {
	if name, _ := cmd.Flags().GetString("dispatcher"); name != "" {
		return name
	}
	return cfg.Dispatcher.Name
}

// dispatcherEntry is the config entry flags for the named dispatcher write
// into: its dispatchers entry, or the top level defaults it derives from.
func dispatcherEntry(cfg *config.Config, name string) *config.DispatcherConfig {
	for i := range cfg.Dispatchers {
		if cfg.Dispatchers[i].Name == name {
			return &cfg.Dispatchers[i]
		}
	}
	return &cfg.Dispatcher
}
