package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
	"github.com/audiolens/masterqc/internal/secrets"
)

// DefaultUploadTimeout bounds one upload when the configuration sets none.
const DefaultUploadTimeout = 5 * time.Minute

// maxUploadAttempts bounds retries of one upload. Only transient failures
// (5xx, network errors) are retried; a 4xx fails immediately.
const maxUploadAttempts = 3

// UploadReceipt records a completed upload.
type UploadReceipt struct {
	UploadID    string    `json:"uploadId"`
	URL         string    `json:"url"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Uploader sends one asset to one platform. Implementations must be safe
// for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, spec *PlatformSpec, path string, metadata map[string]string) (*UploadReceipt, error)
}

// uploadResponse is the JSON body the upload gateway answers with.
type uploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// HTTPUploader delivers assets as multipart POSTs to each platform's
// endpoint, authenticated per the contract and rate limited per platform.
type HTTPUploader struct {
	settings   *conf.Settings
	client     *http.Client
	logger     *slog.Logger
	metrics    *metrics.DeliveryMetrics
	retryDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// Credentials resolve on first use so a delivery against key-less
	// platforms never touches the secret sources.
	credOnce  sync.Once
	apiKey    string
	apiKeyErr error
	bearer    string
	bearerErr error
}

// NewHTTPUploader builds an uploader from the delivery settings.
func NewHTTPUploader(settings *conf.Settings) *HTTPUploader {
	timeout := settings.Delivery.Timeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &HTTPUploader{
		settings:   settings,
		client:     &http.Client{Timeout: timeout},
		logger:     logging.ForService("delivery"),
		retryDelay: 500 * time.Millisecond,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// SetMetrics attaches delivery metrics. Safe to leave unset.
func (u *HTTPUploader) SetMetrics(m *metrics.DeliveryMetrics) {
	u.metrics = m
}

// limiter returns the per-platform rate limiter, nil when uploads are
// unlimited.
func (u *HTTPUploader) limiter(platform string) *rate.Limiter {
	if u.settings.Delivery.UploadRate <= 0 {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	lim, ok := u.limiters[platform]
	if !ok {
		burst := u.settings.Delivery.UploadBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(u.settings.Delivery.UploadRate), burst)
		u.limiters[platform] = lim
	}
	return lim
}

// endpoint resolves where uploads for a platform go: the contract's own
// endpoint, or the configured gateway when the contract names none.
func (u *HTTPUploader) endpoint(spec *PlatformSpec) (string, error) {
	ep := spec.Endpoint
	if ep == "" {
		ep = u.settings.Delivery.Endpoint
	}
	if ep == "" {
		return "", errors.Newf("no upload endpoint configured for platform %s", spec.ID).
			Component("delivery").
			Category(errors.CategoryConfiguration).
			Context("platform", spec.ID).
			Build()
	}
	return ep, nil
}

// credentials resolves both delivery credentials from their configured
// sources (file, env reference, or inline value) exactly once.
func (u *HTTPUploader) credentials() {
	u.credOnce.Do(func() {
		d := &u.settings.Delivery
		u.apiKey, u.apiKeyErr = secrets.Resolve(d.APIKeyFile, d.APIKey)
		u.bearer, u.bearerErr = secrets.Resolve(d.BearerTokenFile, d.BearerToken)
	})
}

// authorize applies the contract's auth method to the request.
func (u *HTTPUploader) authorize(req *http.Request, spec *PlatformSpec) error {
	u.credentials()
	switch spec.Auth {
	case AuthAPIKey:
		if u.apiKeyErr != nil {
			return errors.New(u.apiKeyErr).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Context("platform", spec.ID).
				Context("setting", "delivery.apikey").
				Build()
		}
		if u.apiKey == "" {
			return errors.Newf("platform %s requires an api key; set delivery.apikey", spec.ID).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Context("platform", spec.ID).
				Build()
		}
		req.Header.Set("X-API-Key", u.apiKey)
	case AuthBearer:
		if u.bearerErr != nil {
			return errors.New(u.bearerErr).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Context("platform", spec.ID).
				Context("setting", "delivery.bearertoken").
				Build()
		}
		if u.bearer == "" {
			return errors.Newf("platform %s requires a bearer token; set delivery.bearertoken", spec.ID).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Context("platform", spec.ID).
				Build()
		}
		req.Header.Set("Authorization", "Bearer "+u.bearer)
	}
	return nil
}

// Upload sends the asset to the platform's endpoint, retrying transient
// failures. The multipart body streams straight from the file so large
// masters never sit in memory.
func (u *HTTPUploader) Upload(ctx context.Context, spec *PlatformSpec, path string, metadata map[string]string) (*UploadReceipt, error) {
	endpoint, err := u.endpoint(spec)
	if err != nil {
		return nil, err
	}
	if lim := u.limiter(spec.ID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("delivery").
				Category(errors.CategoryCancellation).
				Context("platform", spec.ID).
				Build()
		}
	}

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		receipt, retryable, err := u.post(ctx, spec, endpoint, path, metadata)
		if err == nil {
			receipt.StartedAt = started
			receipt.CompletedAt = time.Now()
			u.recordUpload(spec.ID, "success", time.Since(started))
			u.logger.Info("upload complete",
				"platform", spec.ID,
				"file", filepath.Base(path),
				"upload_id", receipt.UploadID,
				"attempts", attempt)
			return receipt, nil
		}
		lastErr = err
		if !retryable || attempt == maxUploadAttempts {
			break
		}
		u.logger.Warn("upload failed, retrying",
			"platform", spec.ID,
			"file", filepath.Base(path),
			"attempt", attempt,
			"error", err)
		select {
		case <-time.After(u.retryDelay << (attempt - 1)):
		case <-ctx.Done():
			u.recordUpload(spec.ID, "cancelled", time.Since(started))
			return nil, errors.New(ctx.Err()).
				Component("delivery").
				Category(errors.CategoryCancellation).
				Context("platform", spec.ID).
				Build()
		}
	}
	u.recordUpload(spec.ID, "error", time.Since(started))
	return nil, lastErr
}

// post performs one upload attempt. The second return value reports whether
// the failure is worth retrying.
func (u *HTTPUploader) post(ctx context.Context, spec *PlatformSpec, endpoint, path string, metadata map[string]string) (receipt *UploadReceipt, retryable bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, errors.New(err).
			Component("delivery").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		werr := writeMultipart(mw, file, spec.ID, metadata)
		if cerr := mw.Close(); werr == nil {
			werr = cerr
		}
		pw.CloseWithError(werr)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, false, errors.New(err).
			Component("delivery").
			Category(errors.CategoryUpload).
			Context("platform", spec.ID).
			Build()
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "masterqc")
	if err := u.authorize(req, spec); err != nil {
		pr.CloseWithError(err)
		return nil, false, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, true, classifyNetworkError(err, spec.ID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, errors.New(err).
			Component("delivery").
			Category(errors.CategoryNetwork).
			Context("platform", spec.ID).
			Build()
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return nil, true, uploadStatusError(spec.ID, resp.StatusCode, body)
	default:
		return nil, false, uploadStatusError(spec.ID, resp.StatusCode, body)
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, false, errors.New(err).
			Component("delivery").
			Category(errors.CategoryParsing).
			Context("platform", spec.ID).
			Context("body_bytes", len(body)).
			Build()
	}
	return &UploadReceipt{UploadID: ur.ID, URL: ur.URL}, false, nil
}

// writeMultipart streams the upload body: the platform id, the metadata
// record in key order, then the file itself.
func writeMultipart(mw *multipart.Writer, file *os.File, platform string, metadata map[string]string) error {
	if err := mw.WriteField("platform", platform); err != nil {
		return err
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, metadata[k]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(file.Name()))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func uploadStatusError(platform string, status int, body []byte) error {
	const bodyTail = 256
	tail := string(body)
	if len(tail) > bodyTail {
		tail = tail[:bodyTail]
	}
	return errors.Newf("upload to %s failed with status %d", platform, status).
		Component("delivery").
		Category(errors.CategoryUpload).
		Context("platform", platform).
		Context("status_code", status).
		Context("body", tail).
		Build()
}

// classifyNetworkError distinguishes timeouts and DNS failures from generic
// transport errors so operators see the actual cause.
func classifyNetworkError(err error, platform string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.New(fmt.Errorf("upload request timed out: %w", err)).
			Component("delivery").
			Category(errors.CategoryTimeout).
			Context("platform", platform).
			Build()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) {
			return errors.New(fmt.Errorf("DNS resolution failed: %w", err)).
				Component("delivery").
				Category(errors.CategoryNetwork).
				Context("platform", platform).
				Context("host", dnsErr.Name).
				Build()
		}
	}
	return errors.New(err).
		Component("delivery").
		Category(errors.CategoryNetwork).
		Context("platform", platform).
		Build()
}

func (u *HTTPUploader) recordUpload(platform, status string, elapsed time.Duration) {
	if u.metrics == nil {
		return
	}
	u.metrics.RecordUpload(platform, status)
	u.metrics.RecordUploadDuration(platform, elapsed.Seconds())
}
