package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"venue-swap/pkg/history"
	"venue-swap/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <swap-id | order-id | tx-hash>",
	Short: "Check the status of a swap",
	Long: `Check the status of a submitted swap.

Gasless orders are looked up on the off-chain venue, on-chain swaps by their
transaction receipt. Swaps in the local history are updated with the result.

Examples:
  venue-swap status 0x1234...abcd
  venue-swap status 0x1234...abcd --watch
  venue-swap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	id := args[0]
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

	if watchStatus {
		watchSwapStatus(ctx, a, id, jsonOutput)
	} else {
		checkSwapStatus(ctx, a, id, jsonOutput)
	}
}

func checkSwapStatus(ctx context.Context, a *app, id string, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking swap status..."
		s.Start()
	}

	result, err := lookupStatus(ctx, a, id)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(result)
	}
}

func watchSwapStatus(ctx context.Context, a *app, id string, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching swap status (%s)\n", color.CyanString(id))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		result, err := lookupStatus(ctx, a, id)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(result)
			if result.Status.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// lookupStatus resolves id against the history and asks the venue that executed it.
// Unknown ids are treated as off-chain order ids.
func lookupStatus(ctx context.Context, a *app, id string) (types.SwapResult, error) {
	result, err := a.history.Get(id)
	known := err == nil
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			return types.SwapResult{}, err
		}
		result = types.SwapResult{TransactionID: id, Venue: types.RouteOffchainGasless, Status: types.SwapStatusSubmitted}
	}
	if result.Status.Terminal() {
		return result, nil
	}

	status, err := fetchStatus(ctx, a, result)
	if err != nil {
		return types.SwapResult{}, err
	}
	if known && status != result.Status {
		if err := a.history.UpdateStatus(result.ID, status); err != nil {
			a.log.Sugar().Warnw("failed to update history", "id", result.ID, "error", err)
		}
	}
	result.Status = status
	return result, nil
}

func fetchStatus(ctx context.Context, a *app, r types.SwapResult) (types.SwapStatus, error) {
	if r.Venue == types.RouteOffchainGasless {
		status, err := a.venue.OrderStatus(ctx, r.TransactionID)
		if err != nil {
			return "", fmt.Errorf("failed to get order status: %w", err)
		}
		return status.SwapStatus(), nil
	}

	if a.backend == nil {
		return "", fmt.Errorf("rpc_url is required to check transaction %s", r.TransactionID)
	}
	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(r.TransactionID))
	if err != nil {
		// not mined yet
		return types.SwapStatusSubmitted, nil
	}
	if receipt.Status == 0 {
		return types.SwapStatusFailed, nil
	}
	return types.SwapStatusConfirmed, nil
}

func displayStatus(r types.SwapResult) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	if r.ID != "" {
		fmt.Printf("\n  Swap ID:         %s\n", r.ID)
	} else {
		fmt.Println()
	}
	fmt.Printf("  Route:           %s\n", color.CyanString(r.Venue.String()))
	fmt.Printf("  Status:          %s\n", coloredStatus(string(r.Status)))
	if r.TokenIn != "" {
		fmt.Printf("  Pair:            %s -> %s\n", r.TokenIn, r.TokenOut)
	}
	fmt.Printf("  Reference:       %s\n", color.HiBlackString(r.TransactionID))
	if !r.CreatedAt.IsZero() {
		fmt.Printf("  Submitted:       %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if r.ConfirmedAt != nil {
		fmt.Printf("  Confirmed:       %s\n", r.ConfirmedAt.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "CONFIRMED", "FULFILLED":
		return color.GreenString(status)
	case "SUBMITTED", "OPEN":
		return color.YellowString(status)
	case "FAILED", "CANCELLED", "EXPIRED":
		return color.RedString(status)
	default:
		return status
	}
}
