package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// webhookEvent is the JSON body posted to webhook receivers.
type webhookEvent struct {
	ID     string        `json:"id"`
	Event  Kind          `json:"event"`
	SentAt time.Time     `json:"sent_at"`
	Alert  *Notification `json:"alert"`
}

// Webhook posts notifications as signed JSON events.
//
// When a secret is set, X-Signature-256 carries
// "sha256=" + hex(HMAC-SHA256(secret, timestamp + "." + body)) and
// X-Farewatch-Timestamp the unix timestamp that was signed.
type Webhook struct {
	client  *http.Client
	url     string
	secret  string
	now     func() time.Time
	backoff func() backoff.BackOff
}

// NewWebhook creates a webhook notifier. Deliveries that fail with a
// transport error or a 5xx are retried up to three times.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, 2)
		},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	sentAt := w.now().UTC()
	body, err := json.Marshal(webhookEvent{
		ID:     uuid.NewString(),
		Event:  n.Kind,
		SentAt: sentAt,
		Alert:  n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	ts := strconv.FormatInt(sentAt.Unix(), 10)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "farewatch/1.0")
		req.Header.Set("X-Farewatch-Event", string(n.Kind))
		if w.secret != "" {
			req.Header.Set("X-Farewatch-Timestamp", ts)
			req.Header.Set("X-Signature-256", "sha256="+w.sign(ts, body))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("send webhook: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook status %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook status %d", resp.StatusCode))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(w.backoff(), ctx))
}

func (w *Webhook) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
