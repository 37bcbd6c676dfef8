// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tphakala/polecam/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validatePoleSettings(&settings.Pole)...)

	if err := validateDriverSettings(&settings.Driver); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&settings.Broker.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAPISettings(&settings.API); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification is enabled but no service URLs are configured")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

// validatePoleSettings returns one message per problem so the operator sees them all at once
func validatePoleSettings(p *PoleSettings) []string {
	var problems []string

	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "pole name must not be empty")
	}
	if p.TriggerTimeout <= 0 {
		problems = append(problems, "pole trigger timeout must be positive")
	}
	if p.MaxFrameDLTime <= 0 {
		problems = append(problems, "pole max frame download time must be positive")
	}
	if p.EventTimeout <= 0 {
		problems = append(problems, "pole event timeout must be positive")
	}
	if p.OpenTimeout <= 0 {
		problems = append(problems, "pole open timeout must be positive")
	}
	if p.NetworkSemaphore < 1 {
		problems = append(problems, "pole network semaphore must be at least 1")
	}
	if p.FrameHeight <= 0 || p.FrameWidth <= 0 {
		problems = append(problems, "pole frame height and width must be positive")
	}
	if p.BufferCount < 1 {
		problems = append(problems, "pole buffer count must be at least 1")
	}
	if strings.TrimSpace(p.WriteDir) == "" {
		problems = append(problems, "pole write directory must not be empty")
	}
	if r := p.Retention; r.Enabled && (r.MaxAge <= 0 || r.Interval <= 0) {
		problems = append(problems, "retention max age and interval must be positive")
	}

	if len(p.Cameras) == 0 {
		problems = append(problems, "at least one camera must be configured")
	}
	seen := make(map[string]struct{}, len(p.Cameras))
	for i, cam := range p.Cameras {
		if strings.TrimSpace(cam.ID) == "" {
			problems = append(problems, fmt.Sprintf("camera #%d has an empty id", i+1))
			continue
		}
		if _, dup := seen[cam.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate camera id %q", cam.ID))
		}
		seen[cam.ID] = struct{}{}
	}

	return problems
}

func validateDriverSettings(d *DriverSettings) error {
	if d.Type != DriverSimulated {
		return fmt.Errorf("unsupported camera driver type %q", d.Type)
	}
	if d.OpenRetries < 1 {
		return fmt.Errorf("driver open retries must be at least 1")
	}
	if d.OpenBackoff < 0 {
		return fmt.Errorf("driver open backoff must not be negative")
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid MQTT broker URL %q", m.Broker)
	}
	if m.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2")
	}
	if strings.TrimSpace(m.Topic) == "" {
		return fmt.Errorf("MQTT topic must not be empty")
	}
	return nil
}

func validateOutputSettings(o *OutputSettings) error {
	if o.SQLite.Enabled && o.MySQL.Enabled {
		return fmt.Errorf("only one event archive backend can be enabled")
	}
	if o.SQLite.Enabled && o.SQLite.Path == "" {
		return fmt.Errorf("sqlite path must not be empty")
	}
	if o.MySQL.Enabled && (o.MySQL.Host == "" || o.MySQL.Database == "") {
		return fmt.Errorf("mysql host and database must be set")
	}
	return nil
}

func validateAPISettings(a *APISettings) error {
	if !a.Enabled {
		return nil
	}
	if a.Listen == "" {
		return fmt.Errorf("api listen address must not be empty")
	}
	if a.RateLimit <= 0 || a.Burst < 1 {
		return fmt.Errorf("api rate limit and burst must be positive")
	}
	return nil
}
