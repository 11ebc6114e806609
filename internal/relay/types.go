package relay

import "time"

// EventTick is published on the event bus after every Tick; Data is a TickResult.
const EventTick = "relay.tick"

// Outcome is the explicit result of one Tick.
type Outcome string

const (
	// OutcomeSkipped: the threshold had not elapsed; no HTTP call was made.
	OutcomeSkipped Outcome = "skipped"
	// OutcomePublished: a new report was sent.
	OutcomePublished Outcome = "published"
	// OutcomeUnchanged: the fetched report equals the last published one.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeMissing: the provider had no report; the fallback text was published.
	OutcomeMissing Outcome = "missing"
	// OutcomeFetchFailed: HTTP error, network error, or malformed body.
	OutcomeFetchFailed Outcome = "fetch_failed"
	// OutcomePublishFailed: channel lookup or send failed.
	OutcomePublishFailed Outcome = "publish_failed"
)

// Outcomes lists every Outcome (metrics pre-register label values from it).
var Outcomes = []Outcome{
	OutcomeSkipped,
	OutcomePublished,
	OutcomeUnchanged,
	OutcomeMissing,
	OutcomeFetchFailed,
	OutcomePublishFailed,
}

type TickResult struct {
	ID        string
	At        time.Time // UTC
	Outcome   Outcome
	Truncated bool
	Duration  time.Duration
	// Err is set for fetch/publish failures, and for a failed fallback publish
	// (Outcome stays OutcomeMissing in that case).
	Err error
}

// Status is a point-in-time copy of the relay's observable state.
type Status struct {
	Ticks       uint64    `json:"ticks"`
	Published   uint64    `json:"published"`
	LastTick    time.Time `json:"last_tick"`
	LastOutcome Outcome   `json:"last_outcome"`
	LastError   string    `json:"last_error,omitempty"`
	LastFetch   time.Time `json:"last_fetch"`
	LastPublish time.Time `json:"last_publish"`
}
