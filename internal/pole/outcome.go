package pole

import (
	"github.com/tphakala/polecam/internal/broker"
)

// Outcome is the pole's classification of one camera in the current event.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeReady
	OutcomeDelivered
	OutcomeMissFrame
	OutcomeNotReady
	OutcomeRejected
	OutcomeError
	OutcomeDetached
)

var outcomeNames = [...]string{
	OutcomeIdle:      "IDLE",
	OutcomeReady:     "READY",
	OutcomeDelivered: "DELIVERED",
	OutcomeMissFrame: "MISS_FRAME",
	OutcomeNotReady:  "NOT_READY",
	OutcomeRejected:  "REJECTED",
	OutcomeError:     "ERROR",
	OutcomeDetached:  "DETACHED",
}

// final marks outcomes that end a camera's part in the event.
var final = [...]bool{
	OutcomeIdle:      false,
	OutcomeReady:     false,
	OutcomeDelivered: true,
	OutcomeMissFrame: true,
	OutcomeNotReady:  true,
	OutcomeRejected:  true,
	OutcomeError:     true,
	OutcomeDetached:  true,
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "UNKNOWN"
	}
	return outcomeNames[o]
}

// MarshalText renders the outcome name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// IsFinal reports whether the outcome ends the camera's participation in the event.
func (o Outcome) IsFinal() bool {
	return o >= 0 && int(o) < len(final) && final[o]
}

// Accepted reports whether the camera's data goes into the event.
func (o Outcome) Accepted() bool {
	return o == OutcomeDelivered || o == OutcomeMissFrame
}

// ErrorKind maps an outcome to the error report sent for it.
// Delivered and detached cameras have none here; detached ones are reported as lost when cleared.
func (o Outcome) ErrorKind() (broker.ErrorKind, bool) {
	switch o {
	case OutcomeNotReady:
		return broker.KindUnexpectedData, true
	case OutcomeRejected:
		return broker.KindLessTriggers, true
	case OutcomeError:
		return broker.KindExecError, true
	case OutcomeIdle:
		return broker.KindMissedTrigger, true
	case OutcomeReady, OutcomeMissFrame:
		return broker.KindMissedFrame, true
	default:
		return "", false
	}
}
