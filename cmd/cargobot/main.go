// Cargobot — AI assistant bot for cargo CRM companies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cargobot",
	Short: "Cargobot — Telegram AI assistant for cargo CRM companies.",
	Long: `Cargobot connects a company's Telegram chat to its cargo CRM.
Customers track parcels and claim track codes; staff manage orders,
clients, finances, and broadcasts in natural language. Every data
mutation goes through an explicit confirmation step.`,
	RunE:          runBot, // Default to bot mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(botCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
