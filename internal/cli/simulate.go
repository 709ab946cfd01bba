package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spot-price-alerts/internal/app"
)

var (
	simulatePrice  float64
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次指定价格的评估并触发推送",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("price") {
			return errors.New("必须提供 --price")
		}

		opts := app.SimulateOptions{
			Price:  decimal.NewFromFloat(simulatePrice),
			DryRun: simulateDryRun,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的当前电价 (c/kWh)")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "只打印将要发送的通知，不推送也不写库")
}
