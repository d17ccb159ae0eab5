package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgerun/forge/pkg/version"
)

// Exit codes per spec.md §6.
const (
	exitCodeOK       = 0
	exitCodeUsage    = 2
	exitCodeFailed   = 3
	exitCodeInternal = 4
)

var (
	orchPort    string
	orchConfig  string
	orchDataDir string
	orchLogLvl  string
)

var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "forge runs and controls the autonomous agent orchestration runtime",
	Version: version.Full(),
}

// Execute runs the root command; its subcommands are added in init.
// Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&orchPort, "port", getEnv("ORCH_PORT", "8000"), "HTTP API port")
	rootCmd.PersistentFlags().StringVar(&orchConfig, "config", getEnv("ORCH_CONFIG", "./deploy/config"), "configuration directory")
	rootCmd.PersistentFlags().StringVar(&orchDataDir, "data-dir", getEnv("ORCH_DATA_DIR", ""), "root for snapshots, plugin store, logs (overrides forge.yaml)")
	rootCmd.PersistentFlags().StringVar(&orchLogLvl, "log-level", getEnv("ORCH_LOG_LEVEL", ""), "log level: debug, info, warn, error (overrides forge.yaml)")

	rootCmd.AddCommand(runCmd, submitCmd, statusCmd, cancelCmd)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// die prints err and exits with code, mirroring the teacher pack's
// exitWithError helpers but across the four codes spec.md §6 names.
func die(code int, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}
