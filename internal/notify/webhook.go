package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/delivery"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/httpclient"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/privacy"
	"github.com/audiolens/masterqc/internal/secrets"
)

// webhookEvent names the only event pushed today.
const webhookEvent = "delivery.settled"

// defaultWebhookTimeout bounds one webhook POST when the settings set none.
const defaultWebhookTimeout = 10 * time.Second

// webhookTarget is one resolved webhook destination.
type webhookTarget struct {
	url     string
	token   string
	timeout time.Duration
}

// webhookSender POSTs delivery reports to the configured endpoints.
// Targets are independent: one refusing endpoint never blocks another.
type webhookSender struct {
	client  *httpclient.Client
	targets []webhookTarget
	logger  *slog.Logger
}

// newWebhookSender resolves each webhook's credentials up front so a bad
// token file fails at startup, not after a delivery has settled.
func newWebhookSender(hooks []conf.WebhookSettings) (*webhookSender, error) {
	targets := make([]webhookTarget, 0, len(hooks))
	for _, h := range hooks {
		token, err := secrets.Resolve(h.TokenFile, h.Token)
		if err != nil {
			return nil, errors.New(err).
				Component("notify").
				Category(errors.CategoryConfiguration).
				Context("webhook", privacy.SanitizeURL(h.URL)).
				Build()
		}
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		targets = append(targets, webhookTarget{url: h.URL, token: token, timeout: timeout})
	}
	return &webhookSender{
		client:  httpclient.New(&httpclient.Config{DefaultTimeout: defaultWebhookTimeout}),
		targets: targets,
		logger:  logging.ForService("notify"),
	}, nil
}

// webhookPayload is the JSON body a webhook receives. Delivery carries
// the full report so receivers can route on status or per-platform
// outcomes without a follow-up query.
type webhookPayload struct {
	Event    string             `json:"event"`
	Title    string             `json:"title"`
	Message  string             `json:"message"`
	Delivery *delivery.Delivery `json:"delivery"`
	SentAt   time.Time          `json:"sentAt"`
}

// send pushes the delivery report to every target. Failures are logged
// per target and never propagate; a webhook outage must not taint a
// finished delivery.
func (w *webhookSender) send(ctx context.Context, d *delivery.Delivery) {
	if w == nil || len(w.targets) == 0 {
		return
	}

	body, err := json.Marshal(webhookPayload{
		Event:    webhookEvent,
		Title:    title(d),
		Message:  summarize(d),
		Delivery: d,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed",
			"delivery_id", d.ID,
			"error", err.Error())
		return
	}

	for _, target := range w.targets {
		if ctx.Err() != nil {
			return
		}
		if err := w.post(ctx, target, body); err != nil {
			w.logger.Warn("webhook push failed",
				"delivery_id", d.ID,
				"webhook", privacy.SanitizeURL(target.url),
				"error", privacy.ScrubMessage(err.Error()))
		}
	}
}

// post sends one payload to one target.
func (w *webhookSender) post(ctx context.Context, target webhookTarget, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, target.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if target.token != "" {
		req.Header.Set("Authorization", "Bearer "+target.token)
	}

	resp, err := w.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(tail)))
	}

	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// close releases the webhook client's pooled connections.
func (w *webhookSender) close() {
	if w != nil && w.client != nil {
		w.client.Close()
	}
}
