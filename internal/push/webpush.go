package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
)

// Options hold VAPID material and delivery tuning.
type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
	Timeout         time.Duration
}

// WebPush delivers notifications over the Web Push protocol with VAPID auth.
type WebPush struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
}

// NewWebPush constructs a web push sender.
func NewWebPush(opts Options, logger zerolog.Logger) *WebPush {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 3600
	}

	return &WebPush{
		opts:   opts,
		logger: logger.With().Str("component", "webpush").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Send 推送单条通知并在传输层判定结果。
func (w *WebPush) Send(ctx context.Context, sub Subscription, payload Payload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: OutcomeTransient, Err: err}
	}

	dest := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, dest, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.opts.Subject,
		VAPIDPublicKey:  w.opts.VAPIDPublicKey,
		VAPIDPrivateKey: w.opts.VAPIDPrivateKey,
		TTL:             w.opts.TTL,
	})
	if err != nil {
		return Result{Outcome: OutcomeTransient, Err: err}
	}
	defer resp.Body.Close()

	return classify(resp.StatusCode)
}

func classify(status int) Result {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return Result{Outcome: OutcomeGone, StatusCode: status}
	case status >= 200 && status < 300:
		return Result{Outcome: OutcomeDelivered, StatusCode: status}
	default:
		return Result{Outcome: OutcomeTransient, StatusCode: status}
	}
}

var _ Sender = (*WebPush)(nil)
