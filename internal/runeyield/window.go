package runeyield

// ReturnWindow is a stretch of time over which the wallet's units did not
// change. Units only change at window boundaries.
type ReturnWindow struct {
	Start Position
	End   Position
}

// HistoricalSnapshot builds a position from the pool state at a past height.
type HistoricalSnapshot func(height, units int64) (Position, error)

// LiveSnapshot builds a position from the current pool state.
type LiveSnapshot func(units int64) Position

// SequenceWindows folds unit deltas in event order and emits one window per
// adjacent pair of events plus a final window from the last event to now.
// Full exits are not special cased: a zero-unit window is still emitted and
// decomposes to zero.
func SequenceWindows(events []LedgerEvent, at HistoricalSnapshot, now LiveSnapshot) ([]ReturnWindow, error) {
	if len(events) == 0 {
		return nil, nil
	}

	windows := make([]ReturnWindow, 0, len(events))
	var units int64
	for i := 0; i+1 < len(events); i++ {
		e0, e1 := events[i], events[i+1]
		units += e0.UnitsDelta

		start, err := at(e0.Height, units)
		if err != nil {
			return nil, err
		}
		end, err := at(e1.Height, units)
		if err != nil {
			return nil, err
		}
		windows = append(windows, ReturnWindow{Start: start, End: end})
	}

	last := events[len(events)-1]
	units += last.UnitsDelta
	start, err := at(last.Height, units)
	if err != nil {
		return nil, err
	}
	windows = append(windows, ReturnWindow{Start: start, End: now(units)})
	return windows, nil
}

// FinalUnits is the wallet's unit count after all events.
func FinalUnits(events []LedgerEvent) int64 {
	var units int64
	for _, e := range events {
		units += e.UnitsDelta
	}
	return units
}
