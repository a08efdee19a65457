package derby

// JamRef identifies one jam of a bout. Period and Jam are zero based.
type JamRef struct {
	Bout   string `json:"bout"`
	Period int    `json:"period"`
	Jam    int    `json:"jam"`
}

// Args returns the request arguments identifying the jam.
func (r JamRef) Args() map[string]any {
	return map[string]any{"uri": map[string]any{"bout": r.Bout, "period": r.Period, "jam": r.Jam}}
}

func (b *Bout) jamCount(period int) int {
	if period < 0 || period >= len(b.Periods) {
		return 0
	}
	return b.Periods[period].JamCount
}

// PreviousJam returns the jam before ref, crossing back into the previous
// period when ref is the first jam of its period.
func (b *Bout) PreviousJam(ref JamRef) (JamRef, bool) {
	prev := ref
	prev.Jam--
	if prev.Jam >= 0 {
		return prev, true
	}

	for prev.Period > 0 {
		prev.Period--
		if n := b.jamCount(prev.Period); n > 0 {
			prev.Jam = n - 1
			return prev, true
		}
	}
	return JamRef{}, false
}

// NextJam returns the jam after ref, moving into the next period when ref is
// the last jam of its period and the next period has started.
func (b *Bout) NextJam(ref JamRef) (JamRef, bool) {
	next := ref
	next.Jam++
	if next.Jam < b.jamCount(next.Period) {
		return next, true
	}

	next.Period++
	if next.Period >= MaxPeriods || b.jamCount(next.Period) < 1 {
		return JamRef{}, false
	}
	next.Jam = 0
	return next, true
}
