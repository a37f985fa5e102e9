package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/metrics"
	"venue-swap/pkg/swap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <amount> <from-token> to <to-token>",
	Short: "Keep a quote up to date as blocks and liquidity change",
	Long: `Quote a swap and re-quote it on every new block and liquidity refresh until
interrupted. Metrics are served on metrics.addr when it is set.

Examples:
  venue-swap watch 1 WETH to USDC
  venue-swap watch 100 USDC for DAI --gasless`,
	Args: cobra.MinimumNArgs(3),
	Run:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addQuoteFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	updates := make(chan swap.View, 1)
	a, err := newApp(ctx, cmd, appOptions{onUpdate: func(v swap.View) {
		// keep only the latest view
		select {
		case <-updates:
		default:
		}
		updates <- v
	}})
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
	printView(ctx, a, view, jsonOutput)
	select {
	case <-updates:
	default:
	}

	metrics.Serve(ctx, a.cfg.Metrics.Addr, nil, a.log)
	go a.adapter.Run(ctx, a.cfg.Liquidity.RefreshInterval, a.session.Refresh)

	var blocks <-chan uint64
	if a.backend != nil {
		blocks = chain.NewBlockWatcher(a.backend, a.cfg.BlockInterval, a.log).Watch(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- a.session.Run(ctx, blocks) }()

	if !jsonOutput {
		fmt.Println("Watching for new blocks and liquidity. Press Ctrl+C to stop.")
	}
	for {
		select {
		case v := <-updates:
			printView(ctx, a, v, jsonOutput)
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("session stopped", zap.Error(err))
			}
			return
		}
	}
}

func printView(ctx context.Context, a *app, v swap.View, jsonOutput bool) {
	if !jsonOutput {
		fmt.Printf("\n%s  %s\n", color.HiBlackString(time.Now().Format("15:04:05")), strings.ToLower(v.Trigger.String()))
	}
	if v.Loading {
		if !jsonOutput {
			color.Yellow("  waiting for %s...", v.Route)
		}
		return
	}
	if err := showQuote(ctx, a, v, jsonOutput); err != nil {
		color.Red("  %v", err)
	}
}
