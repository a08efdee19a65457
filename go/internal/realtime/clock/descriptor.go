// Package clock interpolates server timer descriptors into continuously
// updating local readings.
package clock

import (
	"encoding/json"
	"fmt"
)

// Descriptor is a server-authoritative timer snapshot. Times are integer
// milliseconds.
type Descriptor struct {
	Elapsed int64  `json:"elapsed"`
	Alarm   *int64 `json:"alarm"`
	Running bool   `json:"running"`
}

// UnmarshalJSON accepts both the running and isRunning spellings of the
// running flag.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var wire struct {
		Elapsed   int64  `json:"elapsed"`
		Alarm     *int64 `json:"alarm"`
		Running   *bool  `json:"running"`
		IsRunning *bool  `json:"isRunning"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	d.Elapsed = wire.Elapsed
	d.Alarm = wire.Alarm
	switch {
	case wire.Running != nil:
		d.Running = *wire.Running
	case wire.IsRunning != nil:
		d.Running = *wire.IsRunning
	default:
		d.Running = false
	}
	return nil
}

// Kind names one of the timers a bout carries.
type Kind string

const (
	KindIntermission Kind = "intermission"
	KindPeriod       Kind = "period"
	KindLineup       Kind = "lineup"
	KindJam          Kind = "jam"
	KindTimeout      Kind = "timeout"
)

// Virtual fields resolve to a concrete Kind depending on which timers run.
const (
	FieldGame   = "game"
	FieldAction = "action"
)

// Clocks holds a bout's timers by kind.
type Clocks map[Kind]Descriptor

// UnknownTimerFieldError reports a timer field that is not recognised, or
// that resolved to a timer the bout does not carry.
type UnknownTimerFieldError struct {
	Field string
	Kind  Kind
}

func (e *UnknownTimerFieldError) Error() string {
	if e.Kind != "" && string(e.Kind) != e.Field {
		return fmt.Sprintf("unknown timer field %q (resolved to missing %q timer)", e.Field, e.Kind)
	}
	return fmt.Sprintf("unknown timer field %q", e.Field)
}

// ValidateField reports whether field names a timer kind or a virtual field.
func ValidateField(field string) error {
	switch field {
	case FieldGame, FieldAction:
		return nil
	}
	switch Kind(field) {
	case KindIntermission, KindPeriod, KindLineup, KindJam, KindTimeout:
		return nil
	}
	return &UnknownTimerFieldError{Field: field}
}

// Resolve maps field to the timer kind it currently denotes.
//
// "game" is the intermission timer while it runs and the period timer
// otherwise. "action" is the timeout timer while it runs, else the lineup
// timer while it runs, else the jam timer.
func Resolve(clocks Clocks, field string) (Kind, error) {
	if err := ValidateField(field); err != nil {
		return "", err
	}

	var kind Kind
	switch field {
	case FieldGame:
		kind = KindPeriod
		if clocks[KindIntermission].Running {
			kind = KindIntermission
		}
	case FieldAction:
		switch {
		case clocks[KindTimeout].Running:
			kind = KindTimeout
		case clocks[KindLineup].Running:
			kind = KindLineup
		default:
			kind = KindJam
		}
	default:
		kind = Kind(field)
	}

	if _, ok := clocks[kind]; !ok {
		return "", &UnknownTimerFieldError{Field: field, Kind: kind}
	}
	return kind, nil
}
