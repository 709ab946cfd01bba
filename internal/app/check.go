package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"spot-price-alerts/internal/service"
)

// Check runs one evaluation pass immediately and prints the summary as JSON.
func (a *App) Check(ctx context.Context) error {
	if !a.Config.PushConfigured() {
		return errors.New("push.vapid_public_key/push.vapid_private_key 未配置，无法发送告警")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法执行评估")
	}
	if closeStore != nil {
		defer closeStore()
	}

	spot, prediction, _ := a.newFetchers()
	evaluator := a.newEvaluator(store, spot, a.newSender())

	svc := service.New(a.Config, nil, evaluator, prediction, store, store, a.Logger)

	summary, err := svc.RunPass(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
