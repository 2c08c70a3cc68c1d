// ABOUTME: Entry point for the parley chat client and API server
// ABOUTME: Cobra root command, global flags and shared config loading

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

var configPath string

var rootCmd = &cobra.Command{
	Use:           "parley",
	Short:         "Chat with hosted agents and direct models from one place",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $PARLEY_CONFIG or ~/.config/parley/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

// loadConfig reads the config file. A missing file at the default location
// yields the built-in defaults; a missing file named by --config is an error.
func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if configPath == "" && errors.Is(err, fs.ErrNotExist) {
		return config.Default(config.DataDir()), "", nil
	}
	return nil, path, fmt.Errorf("loading config: %w", err)
}
