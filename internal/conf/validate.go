// conf/validate.go settings validation
package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/audiolens/masterqc/internal/errors"
)

// ValidateSettings checks the loaded settings for values that would break
// the engine at runtime. It returns the first problem found.
func ValidateSettings(s *Settings) error {
	if err := validateTools(&s.Tools); err != nil {
		return err
	}
	if err := validateNormalize(&s.Normalize); err != nil {
		return err
	}
	if err := validateAnalyzer(&s.Analyzer); err != nil {
		return err
	}
	if err := validateQueue(&s.Queue); err != nil {
		return err
	}
	if err := validateDelivery(&s.Delivery); err != nil {
		return err
	}
	if err := validateCatalog(&s.Catalog); err != nil {
		return err
	}
	if err := validateNotification(&s.Notification); err != nil {
		return err
	}
	return nil
}

func validateTools(t *ToolsSettings) error {
	if t.Timeout <= 0 {
		return errors.Newf("tools.timeout must be positive, got %v", t.Timeout).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateNormalize(n *NormalizeSettings) error {
	if n.MaxAge <= 0 {
		return errors.Newf("normalize.maxage must be positive, got %v", n.MaxAge).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if n.SweepInterval <= 0 {
		return errors.Newf("normalize.sweepinterval must be positive, got %v", n.SweepInterval).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if n.MaxUsage != "" {
		if _, err := ParsePercentage(n.MaxUsage); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("setting", "normalize.maxusage").
				Build()
		}
	}
	return nil
}

func validateAnalyzer(a *AnalyzerSettings) error {
	if a.Granularity != 0 && !slices.Contains(GainWindowSeconds, a.Granularity) {
		return errors.Newf("analyzer.granularity must be one of %v, got %g", GainWindowSeconds, a.Granularity).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if a.ReferenceCurve != "" && !slices.Contains(ReferenceCurves, a.ReferenceCurve) {
		return errors.Newf("analyzer.referencecurve must be one of %v, got %q", ReferenceCurves, a.ReferenceCurve).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateQueue(q *QueueSettings) error {
	if q.Workers < 0 {
		return errors.Newf("queue.workers must not be negative, got %d", q.Workers).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if q.MaxAttempts < 1 {
		return errors.Newf("queue.maxattempts must be at least 1, got %d", q.MaxAttempts).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if q.RetryDelay <= 0 {
		return errors.Newf("queue.retrydelay must be positive, got %v", q.RetryDelay).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateDelivery(d *DeliverySettings) error {
	if d.UploadRate < 0 {
		return errors.Newf("delivery.uploadrate must not be negative, got %g", d.UploadRate).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if d.Timeout <= 0 {
		return errors.Newf("delivery.timeout must be positive, got %v", d.Timeout).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateCatalog(c *CatalogSettings) error {
	if c.SampleSize < 0 {
		return errors.Newf("catalog.samplesize must not be negative, got %d", c.SampleSize).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.Parallel < 1 {
		return errors.Newf("catalog.parallel must be at least 1, got %d", c.Parallel).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateNotification(n *NotificationSettings) error {
	for _, hook := range n.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Newf("notification webhook URL must be http or https, got %q", hook.URL).
				Category(errors.CategoryConfiguration).
				Build()
		}
		if hook.Timeout < 0 {
			return errors.Newf("notification webhook timeout must not be negative, got %v", hook.Timeout).
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return nil
}

// ParsePercentage parses strings like "90%" into the numeric value 90.
func ParsePercentage(s string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "%")
	if trimmed == "" {
		return 0, fmt.Errorf("empty percentage value")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("percentage %q out of range 0-100", s)
	}
	return value, nil
}
