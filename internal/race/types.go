// Package race defines the core types shared across the ingestion pipeline.
package race

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the YYYYMMDD stamp used by the upstream site and the schema.
const DateLayout = "20060102"

// Lane and race bounds.
const (
	MinLane        = 1
	MaxLanes       = 6
	DefaultRaces   = 12
	venueCodeCount = 24
)

// Status is the per-race outcome recorded in a run report.
type Status string

// Race outcomes. StatusFailedStore is emitted when the race transaction
// could not be committed after its retry.
const (
	StatusOK          Status = "ok"
	StatusOKPartial   Status = "ok-partial"
	StatusFailedFetch Status = "failed-fetch"
	StatusFailedParse Status = "failed-parse"
	StatusFailedStore Status = "failed-store"
)

// Succeeded reports whether rows for the race were committed.
func (s Status) Succeeded() bool {
	return s == StatusOK || s == StatusOKPartial
}

// Key identifies one race.
type Key struct {
	Venue  string `json:"venue"`
	Date   string `json:"date"`
	RaceNo int    `json:"race_no"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/R%d", k.Date, k.Venue, k.RaceNo)
}

// Validate checks that every keyed dimension is present and well formed.
func (k Key) Validate() error {
	if !ValidVenue(k.Venue) {
		return fmt.Errorf("invalid venue code %q", k.Venue)
	}
	if _, err := ParseDate(k.Date); err != nil {
		return err
	}
	if k.RaceNo < 1 {
		return fmt.Errorf("invalid race number %d", k.RaceNo)
	}
	return nil
}

// ParseDate parses a YYYYMMDD stamp.
func ParseDate(stamp string) (time.Time, error) {
	t, err := time.Parse(DateLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYYMMDD): %w", stamp, err)
	}
	return t, nil
}

// ValidVenue reports whether code is one of the 24 two-digit venue codes.
func ValidVenue(code string) bool {
	if len(code) != 2 {
		return false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= 1 && n <= venueCodeCount
}

// AllVenues returns every venue code, 01 through 24.
func AllVenues() []string {
	out := make([]string, 0, venueCodeCount)
	for i := 1; i <= venueCodeCount; i++ {
		out = append(out, fmt.Sprintf("%02d", i))
	}
	return out
}

// RawEntrantRow holds one entrant table row as trimmed cell text. Optional
// trailing columns are nil when the page does not carry them.
type RawEntrantRow struct {
	Position        int
	Lane            string
	RacerID         string
	RacerName       string
	MotorNo         string
	ExhibitionTime  string
	BoatNo          string
	WinRate         string
	TwoPlaceWinRate string
	Weight          string
	StartTiming     string

	MotorWinRate         *string
	MotorTwoPlaceWinRate *string
	ApproachCourse       *string
	StraightTime         *string
	TurnTime             *string
}

// RawWeather is the weather block as text.
type RawWeather struct {
	Label     string
	Wind      string
	Wave      string
	AirTemp   string
	WaterTemp string
}

// RawResultRow is one finishing-order row as text.
type RawResultRow struct {
	Finish string
	Lane   string
}

// RawRaceFields is the parser output: untyped cell text per section.
type RawRaceFields struct {
	Entrants    []RawEntrantRow
	SkippedRows int
	Weather     *RawWeather
	Results     []RawResultRow
	Notes       []string
}

// TypedEntrant is a normalized entrant row.
type TypedEntrant struct {
	Lane            int
	MotorNo         int
	ExhibitionTime  float64
	WinRate         float64
	TwoPlaceWinRate float64
	Weight          float64
	StartTiming     float64
	// StartFlag keeps the false-start ("F") or late ("L") annotation.
	StartFlag      string
	ApproachCourse int

	MotorWinRate         *float64
	MotorTwoPlaceWinRate *float64
	StraightTime         *float64
	TurnTime             *float64
}

// TypedWeather is the normalized weather block.
type TypedWeather struct {
	Label      string
	WindSpeed  float64
	WaveHeight float64
	AirTemp    float64
	WaterTemp  float64
}

// TypedResult is a normalized finishing-order row. FinishingRank is nil for
// non-numeric finishes (flying start, capsize, withdrawal), whose label is
// kept in FinishCode.
type TypedResult struct {
	Lane          int
	FinishingRank *int
	FinishCode    string
}

// TypedRaceFields is the normalizer output.
type TypedRaceFields struct {
	Entrants    []TypedEntrant
	SkippedRows int
	Weather     *TypedWeather
	Results     []TypedResult
	Warnings    []FieldWarning
}

// EnrichedRaceFields is the deriver output: keyed records ready to persist.
type EnrichedRaceFields struct {
	Key         Key
	Entries     []Entry
	Motors      []Motor
	Exhibitions []Exhibition
	Weather     *Weather
	Results     []Result
	SkippedRows int
	Warnings    []FieldWarning
}

// Partial reports whether some entrant rows were dropped.
func (e EnrichedRaceFields) Partial() bool {
	return e.SkippedRows > 0
}

// Entry is a row of the entries table.
type Entry struct {
	Key
	Lane            int
	MotorNo         int
	WinRate         float64
	TwoPlaceWinRate float64
	Weight          float64
	StartTiming     float64
	StartFlag       string
	ApproachCourse  int
}

// Motor is a row of the motors table, scoped to a venue's day.
type Motor struct {
	Venue           string
	Date            string
	MotorNo         int
	WinRate         float64
	TwoPlaceWinRate float64
}

// Exhibition is a row of the exhibitions table.
type Exhibition struct {
	Key
	Lane           int
	ExhibitionTime float64
	ExhibitionRank int
	StraightTime   *float64
	TurnTime       *float64
}

// Weather is a row of the weather table.
type Weather struct {
	Key
	Label      string
	WindSpeed  float64
	WaveHeight float64
	AirTemp    float64
	WaterTemp  float64
}

// Result is a row of the results table.
type Result struct {
	Key
	Lane          int
	FinishingRank *int
	FinishCode    string
}

// Ingestion is the per-race bookkeeping row written with every race.
type Ingestion struct {
	Key
	Status       Status
	Complete     bool
	LaneCount    int
	SkippedRows  int
	WarningCount int
	ContentHash  string
	IngestedAt   time.Time
}

// Batch is every record for one race, committed as a single unit.
type Batch struct {
	Key         Key
	Entries     []Entry
	Motors      []Motor
	Exhibitions []Exhibition
	Weather     *Weather
	Results     []Result
	Ingestion   Ingestion
}

// Batch packages the enriched records together with the ingestion row.
func (e EnrichedRaceFields) Batch(ingestion Ingestion) Batch {
	ingestion.Key = e.Key
	ingestion.LaneCount = len(e.Entries)
	ingestion.SkippedRows = e.SkippedRows
	ingestion.WarningCount = len(e.Warnings)
	ingestion.Complete = !e.Partial()
	return Batch{
		Key:         e.Key,
		Entries:     e.Entries,
		Motors:      e.Motors,
		Exhibitions: e.Exhibitions,
		Weather:     e.Weather,
		Results:     e.Results,
		Ingestion:   ingestion,
	}
}

// FeatureRow is one lane of the feature join. FinishingRank is the training
// label and is nil when no result has been ingested.
type FeatureRow struct {
	Lane             int      `json:"lane"`
	ExhibitionTime   float64  `json:"exhibition_time"`
	StraightTime     *float64 `json:"straight_time,omitempty"`
	TurnTime         *float64 `json:"turn_time,omitempty"`
	MotorWinRate     *float64 `json:"motor_win_rate"`
	MotorTwoWinRate  *float64 `json:"motor_two_win_rate"`
	PlayerWinRate    float64  `json:"player_win_rate"`
	PlayerTwoWinRate float64  `json:"player_two_win_rate"`
	FinishingRank    *int     `json:"finishing_rank,omitempty"`
}
