// Package telemetry reports pole errors to Sentry.
//
// Reporting is opt-in. Events pass through a privacy filter that drops host
// and user data and scrubs addresses and credentials from messages.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tphakala/polecam/internal/buildinfo"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/privacy"
)

const flushTimeout = 2 * time.Second

var (
	initMu      sync.Mutex
	initialized bool
)

// extra fields that survive the privacy filter
var allowedExtra = map[string]struct{}{
	"error_type": {},
	"component":  {},
	"operation":  {},
	"camera_id":  {},
}

// InitSentry initializes error reporting when enabled in settings and routes
// enhanced errors to it. It is a no-op when reporting is disabled.
func InitSentry(settings *conf.Settings, info buildinfo.BuildInfo) error {
	if !settings.Sentry.Enabled {
		GetLogger().Info("error telemetry disabled")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled without a dsn").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return initSentry(settings, info, nil)
}

// initSentry takes an explicit transport so tests can capture events
func initSentry(settings *conf.Settings, info buildinfo.BuildInfo, transport sentry.Transport) error {
	initMu.Lock()
	defer initMu.Unlock()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		Transport:        transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("polecam@%s", info.GetVersion()),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.GetSystemID())
		scope.SetContext("application", sentry.Context{
			"name":       "polecam",
			"version":    info.GetVersion(),
			"build_date": info.GetBuildDate(),
			"cameras":    len(settings.Pole.Cameras),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true

	GetLogger().Info("error telemetry enabled",
		logger.String("system_id", info.GetSystemID()),
		logger.String("version", info.GetVersion()))
	return nil
}

// IsInitialized reports whether InitSentry installed a reporter
func IsInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Flush waits for queued events to be delivered and detaches the reporter
func Flush() {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(flushTimeout) {
		GetLogger().Warn("timed out flushing error telemetry", logger.Duration("timeout", flushTimeout))
	}
	initialized = false
}

// applyPrivacyFilters strips host and user data from an event and scrubs its messages
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if _, ok := allowedExtra[k]; !ok {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	// context values set from error builders may hold camera addresses
	for name, ctx := range event.Contexts {
		for k, v := range ctx {
			if s, ok := v.(string); ok {
				ctx[k] = privacy.ScrubMessage(s)
			}
		}
		event.Contexts[name] = ctx
	}

	return event
}
