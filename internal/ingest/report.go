package ingest

import (
	"time"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// RaceOutcome records what happened to one race.
type RaceOutcome struct {
	race.Key
	Status      race.Status   `json:"status"`
	Lanes       int           `json:"lanes"`
	SkippedRows int           `json:"skipped_rows"`
	Warnings    int           `json:"warnings"`
	Results     int           `json:"results"`
	ContentHash string        `json:"content_hash,omitempty"`
	ArchiveURI  string        `json:"archive_uri,omitempty"`
	MessageID   string        `json:"message_id,omitempty"`
	Attempts    int           `json:"store_attempts,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// RaceEvent is published once a race's rows are committed.
type RaceEvent struct {
	RunID string `json:"run_id"`
	race.Key
	Status      race.Status `json:"status"`
	Lanes       int         `json:"lanes"`
	Results     int         `json:"results"`
	ContentHash string      `json:"content_hash,omitempty"`
	ArchiveURI  string      `json:"archive_uri,omitempty"`
	IngestedAt  time.Time   `json:"ingested_at"`
}

// RunReport is the single source of truth for a run. Outcomes are ordered
// by date, venue and race number regardless of completion order.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Request    Request       `json:"request"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcomes   []RaceOutcome `json:"outcomes"`
	// Pending counts races never started because the run was cancelled.
	Pending   int  `json:"pending"`
	Cancelled bool `json:"cancelled"`
}

// Count returns the number of races that ended with status.
func (r RunReport) Count(status race.Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Counts tallies outcomes by status.
func (r RunReport) Counts() map[race.Status]int {
	out := make(map[race.Status]int, 5)
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}

// Failed returns the outcomes whose rows were not committed.
func (r RunReport) Failed() []RaceOutcome {
	var out []RaceOutcome
	for _, o := range r.Outcomes {
		if !o.Status.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Outcome looks up the outcome for key.
func (r RunReport) Outcome(key race.Key) (RaceOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return RaceOutcome{}, false
}
