package logic

// Evaluate applies the charge curve to one voltage sample.
// It returns the new state and the pin changes the caller must apply.
//
// Ties at a threshold always pick the charge-limiting branch: v == Ceiling
// does not start a cycle and selects constant voltage, v == Full stops.
// Between the ceiling and full a two-stage board holds constant voltage
// whether or not a cycle was started. Complete only blocks a new start.
func Evaluate(v uint16, st ChargeState, th Thresholds, topo Topology) (ChargeState, PinCommands) {
	var cmds PinCommands

	if v > th.Low {
		st.Depleted = false
	}

	if !st.USBConnected {
		st.Charging = false
		return st, AllOff
	}

	if !st.Charging && v < th.Ceiling {
		if st.Complete {
			return st, AllOff
		}
		// Pins follow on the next evaluation.
		st.Charging = true
		return st, cmds
	}

	switch {
	case v >= th.Full:
		if st.Charging {
			st.Complete = true
		}
		st.Charging = false
		cmds = AllOff
	case v >= th.Ceiling && topo == TwoStage:
		cmds = PinCommands{ChargeCurrent: PinOff, ChargeVoltage: PinOn}
	case st.Charging:
		cmds = PinCommands{ChargeCurrent: PinOn, ChargeVoltage: PinOff}
	default:
		// Single-stage above the ceiling without a cycle: nothing to hold.
		cmds = AllOff
	}

	return st, cmds
}

// UpdateDepletion latches Depleted below the low threshold and clears it above.
// A sample exactly at the threshold leaves the latch alone.
func UpdateDepletion(v uint16, st ChargeState, th Thresholds) ChargeState {
	switch {
	case v < th.Low:
		st.Depleted = true
	case v > th.Low:
		st.Depleted = false
	}
	return st
}

// Millivolts converts an ADC code to battery millivolts for display.
func Millivolts(code uint16, fullScaleMV int) int {
	if fullScaleMV <= 0 {
		fullScaleMV = DefaultFullScaleMV
	}
	return int(code) * fullScaleMV / 1024
}
