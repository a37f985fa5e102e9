package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"venue-swap/pkg/parser"
	"venue-swap/pkg/swap"
	"venue-swap/pkg/types"
)

var (
	slippageBps int64
	gasless     bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <from-token> to <to-token>",
	Short: "Quote a swap on every venue and show the selected route",
	Long: `Quote a swap without executing it.

The amount may be fixed on either side:
  venue-swap quote 1 WETH to USDC      (sell exactly 1 WETH)
  venue-swap quote WETH for 2500 USDC  (buy exactly 2500 USDC)

Examples:
  venue-swap quote 1 WETH to USDC
  venue-swap quote 100 USDC for DAI --gasless
  venue-swap quote 1 ETH to WETH --json`,
	Args: cobra.MinimumNArgs(3),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	addQuoteFlags(quoteCmd)
}

func addQuoteFlags(c *cobra.Command) {
	c.Flags().Int64Var(&slippageBps, "slippage", -1, "Slippage buffer in basis points (default from config)")
	c.Flags().BoolVar(&gasless, "gasless", false, "Prefer the gasless off-chain venue")
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cmd, appOptions{})
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
	if err := showQuote(ctx, a, view, jsonOutput); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// quoteIntent parses the swap expression, sets it on the session and waits for a route
func quoteIntent(ctx context.Context, cmd *cobra.Command, a *app, args []string, jsonOutput bool) (swap.View, error) {
	command := strings.Join(args, " ")
	req, err := parser.ParseSwapCommand(command)
	if err != nil {
		return swap.View{}, err
	}
	if err := parser.ValidateSwapRequest(req); err != nil {
		return swap.View{}, err
	}

	bps := a.cfg.SlippageBps
	if cmd.Flags().Changed("slippage") {
		bps = slippageBps
	}
	intent, err := parser.ToIntent(req, a.registry, bps)
	if err != nil {
		return swap.View{}, err
	}
	if cmd.Flags().Changed("gasless") {
		a.session.SetGasless(gasless)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose && !jsonOutput {
		fmt.Printf("\nParsed intent:\n")
		fmt.Printf("  Amount:      %s\n", req.Amount)
		fmt.Printf("  Exact:       %s\n", intent.Direction())
		fmt.Printf("  From:        %s (%s)\n", req.SourceToken, intent.TokenIn.Hex())
		fmt.Printf("  To:          %s (%s)\n", req.DestToken, intent.TokenOut.Hex())
		fmt.Printf("  Slippage:    %d bps\n", bps)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quotes..."
		s.Start()
	}

	a.session.SetIntent(intent)
	a.session.HandleAmountChange(ctx)
	view := a.session.Snapshot()
	if view.Loading && view.Unavailable {
		// the off-chain venue timed out, the next round routes around it
		if !jsonOutput {
			s.Suffix = " Gasless venue timed out, re-routing..."
		}
		a.session.Refresh()
		a.session.HandleAmountChange(ctx)
		view = a.session.Snapshot()
	}

	if !jsonOutput {
		s.Stop()
	}
	return view, nil
}

func showQuote(ctx context.Context, a *app, view swap.View, jsonOutput bool) error {
	d, err := swap.Display(ctx, view, a.registry, a.session.Settings().HighPriceImpact)
	if err != nil {
		if view.Validation != types.ValidationNone {
			return fmt.Errorf("%s", view.Validation)
		}
		return fmt.Errorf("no quote available: %w", err)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(d, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayQuote(d)
	return nil
}

func displayQuote(d types.QuoteDisplay) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Route:             %s\n", color.CyanString(d.Route))
	fmt.Printf("  From:              %s %s\n", d.SourceAmount, color.YellowString(d.SourceToken))
	fmt.Printf("  To:                ~%s %s\n", d.DestAmount, color.YellowString(d.DestToken))
	if d.Rate != "" {
		fmt.Printf("  Rate:              1 %s = %s %s\n", d.SourceToken, d.Rate, d.DestToken)
	}
	fmt.Printf("  Maximum In:        %s %s\n", d.MaximumIn, d.SourceToken)
	fmt.Printf("  Minimum Out:       %s %s\n", d.MinimumOut, d.DestToken)
	fmt.Printf("  Price Impact:      %s\n", d.PriceImpact)
	if d.Fee != "" {
		fmt.Printf("  Fee:               %s\n", d.Fee)
	}
	if d.Validation != "" {
		fmt.Printf("\n  %s\n", color.RedString(d.Validation))
	}
	for _, w := range d.Warnings {
		fmt.Printf("  %s\n", color.YellowString("! "+w))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
