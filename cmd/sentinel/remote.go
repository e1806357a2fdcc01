package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/sentinel/pkg/client"
)

// Commands that talk to a running agent over its HTTP API.

var apiAddr string

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, threatsCmd, attackCmd, resetCmd, unpauseCmd} {
		cmd.Flags().StringVar(&apiAddr, "addr", "http://localhost:8080", "agent API address")
		rootCmd.AddCommand(cmd)
	}
}

func remoteCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current market and protection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteCtx()
		defer cancel()

		stats, err := client.New(apiAddr).Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Oracle price:         $%.2f\n", stats.CurrentOraclePrice)
		fmt.Printf("AMM spot price:       $%.2f\n", stats.CurrentAMMPrice)
		fmt.Printf("Deviation:            %.2f%%\n", stats.PriceDeviation)
		fmt.Printf("AMM paused:           %v\n", stats.AMMPaused)
		fmt.Printf("Vault paused:         %v\n", stats.VaultPaused)
		fmt.Printf("Liquidations blocked: %v\n", stats.LiquidationsBlocked)
		fmt.Printf("Events / threats / actions: %d / %d / %d\n",
			stats.TotalEvents, stats.ThreatsDetected, stats.ActionsTaken)
		return nil
	},
}

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "List recent threat classifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteCtx()
		defer cancel()

		evs, err := client.New(apiAddr).Threats(ctx, 20)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			fmt.Println("No threats recorded.")
			return nil
		}
		for _, ev := range evs {
			r := ev.Reasoning
			fmt.Printf("%s  block %-8d %-20s %.2f  %s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Block, r.Classification, r.Confidence, r.Explanation)
		}
		return nil
	},
}

var attackCmd = &cobra.Command{
	Use:   "attack",
	Short: "Run the demo manipulation swap against the pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteCtx()
		defer cancel()

		res, err := client.New(apiAddr).SimulateAttack(ctx)
		if err != nil {
			return err
		}
		switch {
		case res.Blocked:
			fmt.Printf("Attack blocked: %s\n", res.Message)
		case res.Success:
			fmt.Printf("Attack executed: $%.2f -> $%.2f (tx %s)\n", res.PriceBefore, res.PriceAfter, res.TxHash)
		default:
			fmt.Printf("Attack failed: %s\n", res.Message)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the AMM spot price to the oracle price now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteCtx()
		defer cancel()

		res, err := client.New(apiAddr).ResetAMM(ctx)
		if err != nil {
			return err
		}
		if res.Success {
			fmt.Printf("Pool restored: $%.2f\n", res.NewPrice)
		} else {
			fmt.Printf("Restore failed: %s\n", res.Message)
		}
		return nil
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Clear every on-chain protection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteCtx()
		defer cancel()

		if err := client.New(apiAddr).UnpauseAll(ctx); err != nil {
			return err
		}
		fmt.Println("All protections cleared.")
		return nil
	},
}
