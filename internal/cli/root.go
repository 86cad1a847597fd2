// Package cli wires the payrolld commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "payrolld",
	Short: "payrolld - payment channel payroll engine for Xahau",
	Long: `payrolld mediates between an off-chain hourly work tracker and
Xahau payment channels: it opens escrow-backed channels for workers, accrues
earned wages per clocked session, composes close claims that pay exactly the
earned balance, and reconciles the database against the validated ledger.`,
	Version: "0.1.0",
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
}
