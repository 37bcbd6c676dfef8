package pole

import (
	"time"

	"github.com/tphakala/polecam/internal/logger"
)

// Phase is the orchestrator's position in the event life cycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseBooting
	PhaseWaitStart
	PhaseWaitEnd
	PhaseReport
	PhaseWrite
	PhaseSendData
	PhaseSendErr
	PhaseClear
	PhaseEnd
	PhaseTerm
)

var phaseNames = [...]string{
	PhaseInit:      "INIT",
	PhaseBooting:   "BOOTING",
	PhaseWaitStart: "WAIT_START",
	PhaseWaitEnd:   "WAIT_END",
	PhaseReport:    "REPORT",
	PhaseWrite:     "WRITE",
	PhaseSendData:  "SEND_DATA",
	PhaseSendErr:   "SEND_ERR",
	PhaseClear:     "CLEAR",
	PhaseEnd:       "END",
	PhaseTerm:      "TERM",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CameraStatus describes one camera still in service.
type CameraStatus struct {
	ID       string  `json:"id"`
	Num      int     `json:"num"`
	Outcome  Outcome `json:"outcome"`
	Open     bool    `json:"open"`
	Triggers int     `json:"triggers"` // registered in the current cycle
	Frames   int     `json:"frames"`   // downloaded in the current cycle
}

// Status is a point-in-time copy of the orchestrator state.
type Status struct {
	Pole             string         `json:"pole"`
	Phase            Phase          `json:"phase"`
	EventTime        time.Time      `json:"event_time,omitzero"`
	ExpectedTriggers int            `json:"expected_triggers"`
	Cycles           uint64         `json:"cycles"`
	DownloadSlots    int            `json:"download_slots"`
	DownloadMax      int            `json:"download_max"`
	DownloadsActive  int            `json:"downloads_active"`
	Cameras          []CameraStatus `json:"cameras"`
}

// Camera returns the status of one camera.
func (s *Status) Camera(id string) (CameraStatus, bool) {
	for _, c := range s.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return CameraStatus{}, false
}

// Status returns a snapshot of the orchestrator. Safe from any goroutine.
func (p *Pole) Status() Status {
	p.mu.Lock()
	st := Status{
		Pole:             p.cfg.Name,
		Phase:            p.phase,
		EventTime:        p.eventTS,
		ExpectedTriggers: p.round.expectedTriggers(),
		Cycles:           p.cycles,
		Cameras:          make([]CameraStatus, 0, len(p.members)),
	}
	members := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		members = append(members, m)
		st.Cameras = append(st.Cameras, CameraStatus{
			ID:      m.spec.ID,
			Num:     m.num,
			Outcome: p.round.outcomes[m.spec.ID],
		})
	}
	p.mu.Unlock()

	// live counts are read outside the lock, sessions have their own
	for i, m := range members {
		st.Cameras[i].Open = m.session.IsOpen()
		st.Cameras[i].Triggers, st.Cameras[i].Frames = m.session.Stats()
	}

	st.DownloadSlots = p.limiter.Capacity()
	st.DownloadMax = p.limiter.Max()
	st.DownloadsActive = p.limiter.InUse()
	return st
}

// setPhase records the phase transition.
func (p *Pole) setPhase(phase Phase) {
	p.mu.Lock()
	prev := p.phase
	p.phase = phase
	p.mu.Unlock()

	if p.onPhase != nil {
		p.onPhase(phase)
	}
	p.log.Trace("phase change",
		logger.String("from", prev.String()),
		logger.String("to", phase.String()))
}

// since is used for the event duration metric.
func since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}
