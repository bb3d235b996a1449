// Package telemetry reports enhanced errors to Sentry. Reporting is
// strictly opt-in: without the sentry flag and a DSN in settings every
// function here is a no-op.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/privacy"
	"github.com/audiolens/masterqc/internal/secrets"
)

var log = logging.ForService("telemetry")

var initialized atomic.Bool

// Init starts the Sentry SDK and installs the global error reporter.
// Events carry an anonymous install ID, never a hostname or user data.
func Init(settings *conf.Settings) error {
	if settings == nil || !settings.Telemetry.Sentry || settings.Telemetry.DSN == "" {
		return nil
	}

	// The DSN may be an env reference like ${SENTRY_DSN} so it never has
	// to sit in the config file.
	dsn, err := secrets.ExpandString(settings.Telemetry.DSN)
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("setting", "telemetry.dsn").
			Build()
	}
	if dsn == "" {
		return nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:        dsn,
		SampleRate: 1.0,
		// Stack traces carry local paths, the scrubbed message is enough.
		AttachStacktrace: false,
		ServerName:       "",
		Environment:      "production",
		Release:          fmt.Sprintf("masterqc@%s", settings.Version),
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	systemID := installID()
	configureScope(settings, systemID)

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)
	log.Info("sentry telemetry initialized", "system_id", systemID)
	return nil
}

// Attach routes built errors through the bus so Sentry reporting happens
// off the error-construction path. Returns nil when telemetry is off.
func Attach(bus *events.Bus) *events.Subscription {
	if !initialized.Load() || bus == nil {
		return nil
	}
	return events.AttachErrorPublisher(bus)
}

// Flush blocks until buffered events are sent or the timeout elapses.
func Flush(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	sentry.Flush(timeout)
}

// Enabled reports whether Init completed with reporting active.
func Enabled() bool {
	return initialized.Load()
}

// installID resolves the persisted anonymous system ID, falling back to
// a throwaway one when the config directory is not writable.
func installID() string {
	paths, err := conf.GetDefaultConfigPaths()
	if err == nil && len(paths) > 0 {
		if id, err := LoadOrCreateSystemID(paths[0]); err == nil {
			return id
		}
	}
	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "unknown"
	}
	return id
}

func configureScope(settings *conf.Settings, systemID string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", systemID)
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)

		scope.SetContext("application", map[string]any{
			"name":       "masterqc",
			"version":    settings.Version,
			"build_date": settings.BuildDate,
			"system_id":  systemID,
		})
		scope.SetContext("platform", map[string]any{
			"num_cpu":    runtime.NumCPU(),
			"go_version": runtime.Version(),
		})
	})
}

// scrubEvent strips identifying data before an event leaves the process.
func scrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
