package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagAddr   string
	flagDB     string
	flagToken  string
)

var rootCmd = &cobra.Command{
	Use:   "queued",
	Short: "Job-queue control plane with live change events.",
}

func main() {
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to SQLite DB (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Operator bearer token (overrides config)")
}
