package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	dbURL      string
	table      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "policykeeper",
	Short: "Shared authorization policy store with change notification",
	Long: `policykeeper keeps access-control rules in a relational table shared by many
processes, and notifies every process through etcd, Redis or Postgres when
another one changes them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path, sqlite+pure://path, postgres://..., postgres+pgx://...)")
	rootCmd.PersistentFlags().StringVar(&table, "table", "", "policy table name")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}
