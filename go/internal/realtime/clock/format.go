package clock

import "fmt"

// Format renders milliseconds for a scoreboard display: h:mm:ss from one
// hour, m:ss from one minute, whole seconds from ten seconds and s.d below
// that. tenths controls the decisecond digit, which is only ever shown below
// ten seconds. Zero and negative values render as 0.0 (or 0).
func Format(ms int64, tenths bool) string {
	if ms <= 0 {
		if tenths {
			return "0.0"
		}
		return "0"
	}

	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%d:%02d", minutes, seconds)
	case ms >= 10_000:
		return fmt.Sprintf("%d", seconds)
	case tenths:
		return fmt.Sprintf("%d.%d", seconds, ms%1000/100)
	}
	return fmt.Sprintf("%d", seconds)
}
