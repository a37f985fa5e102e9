package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "venue-swap",
	Short: "A CLI that quotes and routes token swaps across venues",
	Long: `venue-swap quotes a swap on every venue it knows about (weighted pools through
the vault, multi-step relayer batches and gasless off-chain orders), picks one
route and executes it.

Examples:
  venue-swap quote 1 WETH to USDC
  venue-swap swap 100 USDC for DAI --gasless
  venue-swap swap WETH for 2500 USDC --slippage 30
  venue-swap watch 1 WETH to USDC
  venue-swap status <order-id>`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default is $HOME/.venue-swap.yaml)")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
