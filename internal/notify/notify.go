// Package notify pushes delivery summaries to chat and webhook services
// through shoutrrr URLs. Pushes are best-effort: failures are logged and
// never affect the delivery outcome.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sort"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/delivery"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/privacy"
)

// sendTimeout bounds each shoutrrr push.
const sendTimeout = 30 * time.Second

// sender matches the router's send surface so tests can stub it.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier pushes delivery summaries to the configured services. A
// disabled notifier is valid and does nothing.
type Notifier struct {
	enabled  bool
	send     sender
	webhooks *webhookSender
	logger   *slog.Logger
}

// New builds a notifier from settings. One router serves all shoutrrr
// URLs; webhooks get the full report as JSON.
func New(settings *conf.Settings) (*Notifier, error) {
	n := &Notifier{
		enabled: settings.Notification.Enabled,
		logger:  logging.ForService("notify"),
	}
	if !n.enabled {
		return n, nil
	}

	urls := settings.Notification.URLs
	hooks := settings.Notification.Webhooks
	if len(urls) == 0 && len(hooks) == 0 {
		return nil, errors.Newf("notifications enabled with no service URLs or webhooks").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if len(urls) > 0 {
		sr, err := shoutrrr.CreateSender(urls...)
		if err != nil {
			// Scrub before wrapping: shoutrrr quotes the offending URL,
			// which may carry a token.
			return nil, errors.Newf("invalid notification URL: %s", privacy.ScrubMessage(err.Error())).
				Component("notify").
				Category(errors.CategoryConfiguration).
				Build()
		}
		sr.Timeout = sendTimeout
		sr.SetLogger(log.New(io.Discard, "", 0))
		n.send = sr
	}

	if len(hooks) > 0 {
		ws, err := newWebhookSender(hooks)
		if err != nil {
			return nil, err
		}
		n.webhooks = ws
	}
	return n, nil
}

// Enabled reports whether pushes will actually go out.
func (n *Notifier) Enabled() bool {
	return n != nil && n.enabled && (n.send != nil || n.webhooks != nil)
}

// Close releases the webhook client's connections. Safe on a disabled
// or nil notifier.
func (n *Notifier) Close() {
	if n != nil {
		n.webhooks.close()
	}
}

// DeliverySettled pushes a summary for a finished delivery. The shoutrrr
// router manages its own timeouts, so ctx is only consulted up front;
// webhook pushes honor it per target.
func (n *Notifier) DeliverySettled(ctx context.Context, d *delivery.Delivery) {
	if !n.Enabled() || d == nil || ctx.Err() != nil {
		return
	}

	if n.send != nil {
		params := stypes.Params{}
		params.SetTitle(title(d))
		for _, err := range n.send.Send(summarize(d), &params) {
			if err != nil {
				n.logger.Warn("delivery notification failed",
					"delivery_id", d.ID,
					"error", privacy.ScrubMessage(err.Error()))
			}
		}
	}

	n.webhooks.send(ctx, d)
}

func title(d *delivery.Delivery) string {
	return fmt.Sprintf("masterqc: delivery %s", strings.ToLower(string(d.Status)))
}

// summarize renders the per-platform outcome as a short plain-text block,
// platforms in stable order.
func summarize(d *delivery.Delivery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "delivery %s", d.ID)
	if d.ProjectID != "" {
		fmt.Fprintf(&b, " (project %s)", d.ProjectID)
	}
	fmt.Fprintf(&b, ": %d delivered, %d failed of %d platforms",
		d.Stats.Successful, d.Stats.Failed, len(d.PerPlatform))

	ids := make([]string, 0, len(d.PerPlatform))
	for id := range d.PerPlatform {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ps := d.PerPlatform[id]
		switch ps.Status {
		case delivery.StatusDelivered:
			fmt.Fprintf(&b, "\n%s: %d assets delivered", id, d.Stats.PerPlatform[id])
		case delivery.StatusFailed:
			// Failure text can quote the upload URL; the push leaves the
			// process, so anonymize it.
			fmt.Fprintf(&b, "\n%s: failed at %s: %s", id, ps.Stage, privacy.ScrubMessage(ps.Error))
		default:
			fmt.Fprintf(&b, "\n%s: %s", id, ps.Status)
		}
	}
	return b.String()
}
