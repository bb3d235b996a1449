package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/testutil"
)

// webhookSettings builds an enabled notifier config with the given hooks
// and no shoutrrr URLs.
func webhookSettings(hooks ...conf.WebhookSettings) *conf.Settings {
	settings := &conf.Settings{}
	settings.Notification.Enabled = true
	settings.Notification.Webhooks = hooks
	return settings
}

func TestWebhookDeliversPayload(t *testing.T) {
	t.Parallel()

	type captured struct {
		payload     webhookPayload
		contentType string
		auth        string
		userAgent   string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c captured
		// Decode errors surface through the field assertions below.
		_ = json.NewDecoder(r.Body).Decode(&c.payload)
		c.contentType = r.Header.Get("Content-Type")
		c.auth = r.Header.Get("Authorization")
		c.userAgent = r.Header.Get("User-Agent")
		got <- c
	}))
	t.Cleanup(srv.Close)

	n, err := New(webhookSettings(conf.WebhookSettings{URL: srv.URL, Token: "hook-token"}))
	require.NoError(t, err)
	t.Cleanup(n.Close)
	require.True(t, n.Enabled(), "webhooks alone enable the notifier")

	n.DeliverySettled(t.Context(), settledDelivery())

	c := testutil.Receive(t, got, 2*time.Second, "webhook was never called")
	assert.Equal(t, "delivery.settled", c.payload.Event)
	assert.Equal(t, "masterqc: delivery delivered", c.payload.Title)
	assert.Contains(t, c.payload.Message, "1 delivered, 1 failed of 2 platforms")
	require.NotNil(t, c.payload.Delivery)
	assert.Equal(t, "dl-42", c.payload.Delivery.ID)
	assert.False(t, c.payload.SentAt.IsZero())
	assert.Equal(t, "application/json", c.contentType)
	assert.Equal(t, "Bearer hook-token", c.auth)
	assert.Equal(t, "masterqc", c.userAgent)
}

func TestWebhookFanOutSurvivesFailures(t *testing.T) {
	t.Parallel()

	var first, second atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first.Add(1)
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	t.Cleanup(failing.Close)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
	}))
	t.Cleanup(healthy.Close)

	n, err := New(webhookSettings(
		conf.WebhookSettings{URL: failing.URL},
		conf.WebhookSettings{URL: healthy.URL},
	))
	require.NoError(t, err)
	t.Cleanup(n.Close)

	n.DeliverySettled(t.Context(), settledDelivery())

	assert.Equal(t, int32(1), first.Load(), "failing target still attempted")
	assert.Equal(t, int32(1), second.Load(), "failure of one target must not skip the next")
}

func TestWebhookTokenFromFile(t *testing.T) {
	t.Parallel()

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("file-token\n"), 0o600))

	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	n, err := New(webhookSettings(conf.WebhookSettings{
		URL:       srv.URL,
		Token:     "inline-ignored",
		TokenFile: tokenFile,
	}))
	require.NoError(t, err)
	t.Cleanup(n.Close)

	n.DeliverySettled(t.Context(), settledDelivery())

	got := testutil.Receive(t, auth, 2*time.Second, "webhook was never called")
	assert.Equal(t, "Bearer file-token", got)
}

func TestWebhookWithoutTokenSendsNoAuth(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	n, err := New(webhookSettings(conf.WebhookSettings{URL: srv.URL}))
	require.NoError(t, err)
	t.Cleanup(n.Close)

	n.DeliverySettled(t.Context(), settledDelivery())

	assert.Empty(t, testutil.Receive(t, auth, 2*time.Second, "webhook was never called"))
}

func TestNewRejectsUnreadableTokenFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope")
	_, err := New(webhookSettings(conf.WebhookSettings{
		URL:       "https://ops.example.com/hook",
		TokenFile: missing,
	}))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NotContains(t, err.Error(), "token value", "errors never quote secrets")
}
