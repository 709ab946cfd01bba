package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"spot-price-alerts/internal/push"
	"spot-price-alerts/internal/storage"
)

// Show prints recent subscriptions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show subscriptions")
	}
	if closeStore != nil {
		defer closeStore()
	}

	subs, err := store.ListRecentSubscriptions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintln(os.Stdout, "no subscriptions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tEndpoint\tEnabled\tLow\tHigh\tLast Low\tLast High\tLast Price")

	for _, sub := range subs {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			sub.ID,
			push.TruncateEndpoint(sub.Endpoint),
			sub.AlertsEnabled,
			sub.LowThreshold.StringFixed(2),
			sub.HighThreshold.StringFixed(2),
			formatAlertTime(sub.LastLowAlertAt),
			formatAlertTime(sub.LastHighAlertAt),
			formatLastPrice(sub),
		)
	}

	writer.Flush()
	return nil
}

func formatAlertTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLastPrice(sub storage.Subscription) string {
	if sub.LastAlertPrice == nil {
		return "-"
	}
	return sub.LastAlertPrice.StringFixed(2)
}
