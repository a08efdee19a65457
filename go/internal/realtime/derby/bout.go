// Package derby defines the scoreboard resources a sync client reads and the
// navigation helpers built on them.
package derby

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
)

// Resource names requested from the scoreboard server.
const (
	ResourceBout    = "bout"
	ResourceJam     = "jam"
	ResourceTimeout = "boutTimeout"
)

// MaxPeriods is the number of regulation periods in a bout.
const MaxPeriods = 2

type Team string

const (
	TeamHome Team = "home"
	TeamAway Team = "away"
)

// Bout is the decoded bout resource.
type Bout struct {
	ID       string       `json:"id,omitempty"`
	Clocks   clock.Clocks `json:"clocks"`
	Info     Info         `json:"info"`
	Periods  []Period     `json:"periods"`
	Jams     JamSummary   `json:"jams"`
	Timeouts Timeouts     `json:"timeouts"`
}

type Info struct {
	Date       string `json:"date"`
	GameNumber string `json:"gameNumber"`
	Venue      string `json:"venue"`
}

type Period struct {
	JamCount int `json:"jamCount"`
}

type JamSummary struct {
	JamCounts [2]int `json:"jamCounts"`
	Score     Score  `json:"score"`
}

type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

type Timeouts struct {
	Remaining map[Team]TimeoutAllowance `json:"remaining"`
	Ongoing   *OngoingTimeout           `json:"ongoing"`
}

type TimeoutAllowance struct {
	Timeouts        int `json:"timeouts"`
	OfficialReviews int `json:"officialReviews"`
}

type OngoingTimeout struct {
	Caller           string `json:"caller"`
	IsOfficialReview bool   `json:"isOfficialReview"`
	IsRetained       bool   `json:"isRetained"`
	Notes            string `json:"notes"`
}

// Jam is the decoded jam resource.
type Jam struct {
	Clock      clock.Descriptor `json:"clock"`
	Lead       Team             `json:"lead,omitempty"`
	Points     map[Team]int     `json:"points,omitempty"`
	StopReason string           `json:"stopReason,omitempty"`
}

// BoutArgs returns the request arguments identifying a bout.
func BoutArgs(boutID string) map[string]any {
	return map[string]any{"uri": map[string]any{"bout": boutID}}
}

// DecodeBout decodes raw bout data.
func DecodeBout(raw json.RawMessage) (*Bout, error) {
	var b Bout
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bout: %w", err)
	}
	return &b, nil
}

// Clock returns the descriptor for field, resolving virtual fields first.
func (b *Bout) Clock(field string) (clock.Kind, clock.Descriptor, error) {
	kind, err := clock.Resolve(b.Clocks, field)
	if err != nil {
		return "", clock.Descriptor{}, err
	}
	return kind, b.Clocks[kind], nil
}
