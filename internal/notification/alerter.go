// Package notification sends operator alerts through shoutrrr services.
package notification

import (
	"context"
	"io"
	stdlog "log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/privacy"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds one delivery to all services
	DefaultTimeout = 10 * time.Second
	// alerts per minute on average, with bursts of alertBurst
	alertsPerMinute = 60
	alertBurst      = 10
)

// ErrRateLimited is returned when alerts arrive faster than they may be sent
var ErrRateLimited = errors.NewStd("notification rate limit exceeded")

// Sender delivers a message to all configured services. *router.ServiceRouter satisfies it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Alerter sends operator alerts
type Alerter struct {
	sender  Sender
	limiter *rate.Limiter
	log     logger.Logger
}

// NewAlerter builds an alerter for the configured service URLs
func NewAlerter(settings *conf.NotificationSettings, log logger.Logger) (*Alerter, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.Newf("no notification service URLs configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("services", len(settings.URLs)).
			Build()
	}
	sender.Timeout = DefaultTimeout
	if settings.Timeout > 0 {
		sender.Timeout = settings.Timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	return NewAlerterWithSender(sender, log), nil
}

// NewAlerterWithSender builds an alerter around an existing sender
func NewAlerterWithSender(sender Sender, log logger.Logger) *Alerter {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Alerter{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(float64(alertsPerMinute)/60), alertBurst),
		log:     log,
	}
}

// Notify sends title and message to every service. Service errors are joined.
func (a *Alerter) Notify(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.limiter.Allow() {
		a.log.Warn("alert dropped by rate limit", logger.String("title", title))
		return ErrRateLimited
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	var sendErrs []error
	for _, err := range a.sender.Send(message, &params) {
		if err != nil {
			sendErrs = append(sendErrs, privacy.WrapError(err))
		}
	}
	if len(sendErrs) == 0 {
		a.log.Debug("alert sent", logger.String("title", title))
		return nil
	}

	err := errors.New(errors.Join(sendErrs...)).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("failed_services", len(sendErrs)).
		Build()
	a.log.Warn("alert delivery failed", logger.Error(err))
	return err
}
