package pole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/camera"
)

// shoots builds n paired shoots; missing lists sequence numbers without a frame.
func shoots(n int, missing ...uint) []camera.PairedShoot {
	out := make([]camera.PairedShoot, n)
	for i := range n {
		seq := uint(i + 1)
		out[i].Trigger = camera.TriggerEvent{SequenceNum: seq, DeviceTS: uint64(seq * 100), HostTS: float64(seq)}
		skip := false
		for _, m := range missing {
			if m == seq {
				skip = true
			}
		}
		if !skip {
			out[i].Frame = &camera.FrameRecord{FrameID: seq, DeviceTS: uint64(seq * 100), ByteSize: 4, Bytes: []byte{1, 2, 3, 4}}
		}
	}
	return out
}

func readyAll(r *round) {
	for _, id := range r.order {
		r.ready(id)
	}
}

func TestOutcome_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome  Outcome
		name     string
		final    bool
		accepted bool
		kind     broker.ErrorKind
	}{
		{OutcomeIdle, "IDLE", false, false, broker.KindMissedTrigger},
		{OutcomeReady, "READY", false, false, broker.KindMissedFrame},
		{OutcomeDelivered, "DELIVERED", true, true, ""},
		{OutcomeMissFrame, "MISS_FRAME", true, true, broker.KindMissedFrame},
		{OutcomeNotReady, "NOT_READY", true, false, broker.KindUnexpectedData},
		{OutcomeRejected, "REJECTED", true, false, broker.KindLessTriggers},
		{OutcomeError, "ERROR", true, false, broker.KindExecError},
		{OutcomeDetached, "DETACHED", true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.name, tt.outcome.String())
			assert.Equal(t, tt.final, tt.outcome.IsFinal())
			assert.Equal(t, tt.accepted, tt.outcome.Accepted())

			kind, ok := tt.outcome.ErrorKind()
			assert.Equal(t, tt.kind != "", ok)
			assert.Equal(t, tt.kind, kind)

			text, err := tt.outcome.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.name, string(text))
		})
	}

	assert.Equal(t, "UNKNOWN", Outcome(42).String())
	assert.False(t, Outcome(-1).IsFinal())
}

func TestRound_FirstDeliveryFixesExpected(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"a", "b"})
	readyAll(r)

	assert.Empty(t, r.deliver("a", shoots(3), false))
	assert.Equal(t, OutcomeDelivered, r.outcomes["a"])
	assert.Equal(t, 3, r.expectedTriggers())

	assert.Empty(t, r.deliver("b", shoots(3, 2), false))
	assert.Equal(t, OutcomeMissFrame, r.outcomes["b"])
	assert.True(t, r.allFinal())
	assert.Len(t, r.shoots["b"], 3)
}

func TestRound_UpwardRevisionRejectsAccepted(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"a", "b", "c", "d"})
	readyAll(r)
	r.outcomes["d"] = OutcomeIdle

	r.deliver("a", shoots(2), false)
	r.deliver("b", shoots(2, 1), false)
	require.Equal(t, OutcomeMissFrame, r.outcomes["b"])

	rejected := r.deliver("c", shoots(3), false)
	assert.Equal(t, []string{"a", "b"}, rejected)
	assert.Equal(t, OutcomeRejected, r.outcomes["a"])
	assert.Equal(t, OutcomeRejected, r.outcomes["b"])
	assert.Equal(t, OutcomeDelivered, r.outcomes["c"])
	assert.Equal(t, OutcomeIdle, r.outcomes["d"], "cameras without data are not touched")
	assert.Equal(t, 3, r.expectedTriggers())
	assert.NotContains(t, r.shoots, "a")
	assert.NotContains(t, r.shoots, "b")
	assert.Len(t, r.shoots["c"], 3)
}

func TestRound_RevisionKeepsAlreadyRejected(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"a", "b", "c"})
	readyAll(r)

	r.deliver("a", shoots(1), false)
	assert.Equal(t, []string{"a"}, r.deliver("b", shoots(2), false))
	assert.Equal(t, []string{"b"}, r.deliver("c", shoots(4), false), "a was already rejected")
	assert.Equal(t, OutcomeRejected, r.outcomes["a"])
	assert.Equal(t, 4, r.expectedTriggers())
}

func TestRound_ExpectedIsMonotonic(t *testing.T) {
	t.Parallel()

	counts := []int{2, 1, 3, 2, 5, 5, 4}
	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	r := newRound(ids)
	readyAll(r)

	prev := 0
	for i, id := range ids {
		before := make(map[string]Outcome, len(r.outcomes))
		for k, v := range r.outcomes {
			before[k] = v
		}

		rejected := r.deliver(id, shoots(counts[i]), false)

		assert.GreaterOrEqual(t, r.expectedTriggers(), prev)
		if r.expectedTriggers() > prev && prev > 0 {
			var accepted []string
			for _, other := range ids {
				if other != id && before[other].Accepted() {
					accepted = append(accepted, other)
				}
			}
			assert.Equal(t, accepted, rejected, "an upward revision rejects exactly the accepted cameras")
		} else {
			assert.Empty(t, rejected)
		}
		prev = r.expectedTriggers()
	}
	assert.Equal(t, 5, r.expectedTriggers())
}

func TestRound_UnderCountStaysReady(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"a", "b"})
	readyAll(r)

	r.deliver("a", shoots(3), false)
	assert.Empty(t, r.deliver("b", shoots(2), false))
	assert.Equal(t, OutcomeReady, r.outcomes["b"])
	assert.False(t, r.allFinal())
	assert.NotContains(t, r.shoots, "b")
}

func TestRound_NotReadyErrorAndDetach(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"idle", "err", "gone"})
	r.ready("err")
	r.ready("gone")

	r.deliver("idle", shoots(1), false)
	assert.Equal(t, OutcomeNotReady, r.outcomes["idle"])

	r.deliver("err", shoots(3), true)
	assert.Equal(t, OutcomeError, r.outcomes["err"])
	assert.Zero(t, r.expectedTriggers(), "a failed cycle does not set the trigger count")

	r.detach("gone")
	r.deliver("gone", shoots(1), false)
	assert.Equal(t, OutcomeDetached, r.outcomes["gone"], "detached is sticky")
	assert.Equal(t, []string{"gone"}, r.detached())

	assert.False(t, r.ready("err"), "only idle cameras become ready")
	assert.Empty(t, r.deliver("unknown", shoots(1), false))
	assert.True(t, r.allFinal())
}

func TestRound_ResetAndRemove(t *testing.T) {
	t.Parallel()

	r := newRound([]string{"a", "b"})
	readyAll(r)
	r.deliver("a", shoots(2), false)
	r.detach("b")

	r.remove("b")
	r.reset()

	assert.Equal(t, []string{"a"}, r.order)
	assert.Equal(t, map[string]Outcome{"a": OutcomeIdle}, r.outcomes)
	assert.Empty(t, r.shoots)
	assert.Zero(t, r.expectedTriggers())
	assert.False(t, r.hasExpected)
	assert.False(t, r.allFinal())
}
