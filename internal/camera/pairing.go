package camera

// Pair matches every trigger with the first unassigned frame, in arrival order,
// whose device timestamp falls in [trigger, next trigger). The last trigger's
// window has no upper bound. Shoots are ordered by trigger sequence number.
func Pair(acq Acquisition) []PairedShoot {
	if len(acq.Triggers) == 0 {
		return nil
	}

	shoots := make([]PairedShoot, len(acq.Triggers))
	assigned := make([]bool, len(acq.Frames))

	for i, trig := range acq.Triggers {
		shoots[i].Trigger = trig

		lastWindow := i == len(acq.Triggers)-1
		var upper uint64
		if !lastWindow {
			upper = acq.Triggers[i+1].DeviceTS
		}

		for j := range acq.Frames {
			if assigned[j] {
				continue
			}
			ts := acq.Frames[j].DeviceTS
			if ts < trig.DeviceTS || (!lastWindow && ts >= upper) {
				continue
			}
			assigned[j] = true
			frame := acq.Frames[j]
			shoots[i].Frame = &frame
			break
		}
	}

	return shoots
}

// MissingFrames counts shoots without a frame.
func MissingFrames(shoots []PairedShoot) int {
	missing := 0
	for i := range shoots {
		if !shoots[i].HasFrame() {
			missing++
		}
	}
	return missing
}
