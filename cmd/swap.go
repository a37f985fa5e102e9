package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/swap"
	"venue-swap/pkg/types"
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Quote and execute a token swap on the best venue",
	Long: `Quote a swap on every venue, select a route and execute it.

Wrapping and unwrapping the native asset goes straight to the wrapper contract.
Swaps from the native asset use the vault. With --gasless the off-chain venue is
tried first and the wallet only signs an order; if it does not answer in time
the swap falls back to the on-chain routes.

Examples:
  venue-swap swap 1 WETH to USDC
  venue-swap swap WETH for 2500 USDC --slippage 30
  venue-swap swap 100 USDC for DAI --gasless
  venue-swap swap 1 ETH to WETH --yes`,
	Args: cobra.MinimumNArgs(3),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)
	addQuoteFlags(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runSwap(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cmd, appOptions{needSigner: true, skipConfirm: noConfirm})
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	view, err := quoteIntent(ctx, cmd, a, args, jsonOutput)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if !jsonOutput {
		if err := showQuote(ctx, a, view, false); err != nil {
			printError(err)
			os.Exit(1)
		}
	}
	if view.Validation != types.ValidationNone {
		printError(errors.New(view.Validation.String()))
		os.Exit(1)
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Submitting swap..."
		if view.Route == types.RouteOffchainGasless {
			s.Suffix = " Waiting for the order to settle..."
		}
		// the signer may prompt, so the spinner only runs when it will not
		if noConfirm {
			s.Start()
		}
	}

	result, err := a.session.Submit(ctx, nil)
	s.Stop()

	if err != nil {
		if errors.Is(err, types.ErrUserRejected) {
			fmt.Println("\nSwap cancelled: signature rejected.")
			os.Exit(0)
		}
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displayResult(ctx, a, result, view)
	if verbose {
		fmt.Printf("History file: %s\n", a.history.FilePath())
	}
	if result.Venue == types.RouteOffchainGasless {
		fmt.Println("\nYou can check the order using:")
		color.Cyan("  venue-swap status %s\n", result.TransactionID)
	}
}

func displayResult(ctx context.Context, a *app, result types.SwapResult, view swap.View) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP COMPLETE")
	fmt.Println(strings.Repeat("=", 60))

	in, out := formatAmounts(ctx, a, view, result)
	fmt.Printf("\n  Route:             %s\n", color.CyanString(result.Venue.String()))
	fmt.Printf("  Sold:              %s %s\n", in, color.YellowString(result.TokenIn))
	fmt.Printf("  Bought:            %s %s\n", out, color.YellowString(result.TokenOut))
	fmt.Printf("  Status:            %s\n", coloredStatus(string(result.Status)))
	if result.Venue == types.RouteOffchainGasless {
		fmt.Printf("  Order:             %s\n", color.HiBlackString(result.TransactionID))
	} else {
		fmt.Printf("  Transaction:       %s\n", color.HiBlackString(result.TransactionID))
	}
	fmt.Printf("  Swap ID:           %s\n", result.ID)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func formatAmounts(ctx context.Context, a *app, view swap.View, result types.SwapResult) (string, string) {
	in, out := "?", "?"
	if dec, err := a.registry.Decimals(ctx, view.Intent.TokenIn); err == nil && result.AmountIn != nil {
		in = quotemath.ToHuman(result.AmountIn, dec).String()
	}
	if dec, err := a.registry.Decimals(ctx, view.Intent.TokenOut); err == nil && result.AmountOut != nil {
		out = quotemath.ToHuman(result.AmountOut, dec).String()
	}
	return in, out
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
