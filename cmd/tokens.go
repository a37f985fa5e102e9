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

	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/tokens"
)

var (
	filterSymbol string
	showBalances bool
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List the configured tokens",
	Long: `List the tokens that can be used in swap expressions.

With --balances the wallet balance of each token is fetched as well, which
needs private_key and rpc_url.

Examples:
  venue-swap list-tokens
  venue-swap list-tokens --symbol USD
  venue-swap list-tokens --balances`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
	tokensCmd.Flags().BoolVarP(&showBalances, "balances", "b", false, "Show wallet balances")
}

type tokenRow struct {
	tokens.Token
	Balance string `json:"balance,omitempty"`
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cmd, appOptions{needSigner: showBalances})
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	var rows []tokenRow
	for _, t := range a.registry.All() {
		if filterSymbol != "" && !strings.Contains(t.Symbol, strings.ToUpper(filterSymbol)) {
			continue
		}
		rows = append(rows, tokenRow{Token: t})
	}

	if showBalances {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if !jsonOutput {
			s.Suffix = " Fetching balances..."
			s.Start()
		}
		for i := range rows {
			bal, err := a.registry.Balance(ctx, rows[i].Address)
			if err != nil {
				rows[i].Balance = "?"
				continue
			}
			rows[i].Balance = quotemath.ToHuman(bal, rows[i].Decimals).String()
		}
		if !jsonOutput {
			s.Stop()
		}
	}

	// Output
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(rows)
	}
}

func displayTokens(rows []tokenRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            CONFIGURED TOKENS")
	fmt.Println(strings.Repeat("=", 90) + "\n")

	for _, r := range rows {
		line := fmt.Sprintf("  %-10s  %2d decimals  %s",
			color.YellowString(r.Symbol),
			r.Decimals,
			color.HiBlackString(r.Address.Hex()))
		if r.Balance != "" {
			line += "  " + color.CyanString(r.Balance)
		}
		fmt.Println(line)
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(rows))
}
