package pole

import (
	"slices"

	"github.com/tphakala/polecam/internal/camera"
)

// round is the per-event agreement state. Only the pole's actor goroutine touches it.
type round struct {
	order       []string // camera ids in configuration order
	outcomes    map[string]Outcome
	shoots      map[string][]camera.PairedShoot
	expected    int
	hasExpected bool
}

func newRound(ids []string) *round {
	r := &round{
		order:    slices.Clone(ids),
		outcomes: make(map[string]Outcome, len(ids)),
		shoots:   make(map[string][]camera.PairedShoot, len(ids)),
	}
	for _, id := range ids {
		r.outcomes[id] = OutcomeIdle
	}
	return r
}

// ready moves an idle camera to READY and reports whether it did.
func (r *round) ready(id string) bool {
	if o, ok := r.outcomes[id]; !ok || o != OutcomeIdle {
		return false
	}
	r.outcomes[id] = OutcomeReady
	return true
}

// deliver negotiates one camera's finished cycle and returns the cameras it rejected.
func (r *round) deliver(id string, shoots []camera.PairedShoot, loopErr bool) []string {
	o, ok := r.outcomes[id]
	if !ok || o == OutcomeDetached {
		return nil
	}
	if o != OutcomeReady {
		r.outcomes[id] = OutcomeNotReady
		return nil
	}
	if loopErr {
		r.outcomes[id] = OutcomeError
		return nil
	}

	n := len(shoots)
	if !r.hasExpected {
		r.expected = n
		r.hasExpected = true
	}

	switch {
	case n == r.expected:
		if camera.MissingFrames(shoots) > 0 {
			r.outcomes[id] = OutcomeMissFrame
		} else {
			r.outcomes[id] = OutcomeDelivered
		}
		r.shoots[id] = shoots
		return nil

	case n > r.expected:
		r.expected = n
		var rejected []string
		for _, other := range r.order {
			if other != id && r.outcomes[other].Accepted() {
				r.outcomes[other] = OutcomeRejected
				delete(r.shoots, other)
				rejected = append(rejected, other)
			}
		}
		r.outcomes[id] = OutcomeDelivered
		r.shoots[id] = shoots
		return rejected

	default:
		// fewer triggers than agreed: the camera stays READY until the event times out
		return nil
	}
}

// detach marks a camera DETACHED for the rest of the event.
func (r *round) detach(id string) {
	if _, ok := r.outcomes[id]; !ok {
		return
	}
	r.outcomes[id] = OutcomeDetached
	delete(r.shoots, id)
}

// remove forgets a camera entirely.
func (r *round) remove(id string) {
	delete(r.outcomes, id)
	delete(r.shoots, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

// allFinal reports whether every camera has a final outcome.
func (r *round) allFinal() bool {
	for _, id := range r.order {
		if !r.outcomes[id].IsFinal() {
			return false
		}
	}
	return true
}

// detached returns the DETACHED cameras in configuration order.
func (r *round) detached() []string {
	var ids []string
	for _, id := range r.order {
		if r.outcomes[id] == OutcomeDetached {
			ids = append(ids, id)
		}
	}
	return ids
}

// expectedTriggers returns the agreed trigger count, 0 when none was agreed yet.
func (r *round) expectedTriggers() int {
	if !r.hasExpected {
		return 0
	}
	return r.expected
}

// reset returns every remaining camera to IDLE and clears the agreement.
func (r *round) reset() {
	for _, id := range r.order {
		r.outcomes[id] = OutcomeIdle
	}
	clear(r.shoots)
	r.expected = 0
	r.hasExpected = false
}
