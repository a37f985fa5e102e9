package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"venue-swap/config"
	"venue-swap/pkg/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List swaps submitted from this machine",
	Long: `List the swaps recorded in the local history file, newest first.

Examples:
  venue-swap history
  venue-swap history --limit 5
  venue-swap history --json`,
	Args: cobra.NoArgs,
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of swaps to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	configPath, _ := cmd.Flags().GetString("config")

	// the history needs no chain or venue access
	cfg, err := config.Load(configPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	store, err := history.NewStore(cfg.HistoryFile)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	swaps := store.List()
	if historyLimit > 0 && len(swaps) > historyLimit {
		swaps = swaps[:historyLimit]
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(swaps, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(swaps) == 0 {
		printSuccess(fmt.Sprintf("No swaps recorded yet (%s).", store.FilePath()))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                SWAP HISTORY")
	fmt.Println(strings.Repeat("=", 90) + "\n")

	for _, r := range swaps {
		fmt.Printf("  %s  %-17s  %-12s  %s -> %s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			color.CyanString(r.Venue.String()),
			coloredStatus(string(r.Status)),
			color.YellowString(r.TokenIn),
			color.YellowString(r.TokenOut),
			color.HiBlackString(r.ID))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nShowing %d swaps from %s\n\n", len(swaps), store.FilePath())
}
