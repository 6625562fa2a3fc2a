// Package normalize converts raw cell text into typed race fields.
//
// Every text value is folded with Unicode NFKC first, so full-width digits and
// units published by the source compare equal to their ASCII forms. Blank
// numeric text becomes the 0.0 sentinel silently; text that cannot be parsed
// becomes 0.0 with a FieldWarning. Normalization never fails a race.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// Field names used in warnings.
const (
	FieldLane            = "lane"
	FieldMotorNo         = "motor_no"
	FieldExhibitionTime  = "exhibition_time"
	FieldWinRate         = "win_rate"
	FieldTwoPlaceWinRate = "two_place_win_rate"
	FieldWeight          = "weight"
	FieldStartTiming     = "start_timing"
	FieldMotorWinRate    = "motor_win_rate"
	FieldMotorTwoPlace   = "motor_two_place_win_rate"
	FieldApproachCourse  = "approach_course"
	FieldStraightTime    = "straight_time"
	FieldTurnTime        = "turn_time"
	FieldWindSpeed       = "wind_speed"
	FieldWaveHeight      = "wave_height"
	FieldAirTemp         = "air_temp"
	FieldWaterTemp       = "water_temp"
	FieldResultLane      = "result_lane"
)

var calmWind = []string{"無風", "no wind", "calm"}

// Normalize types every field of a parsed race page.
func Normalize(raw race.RawRaceFields) race.TypedRaceFields {
	n := &normalizer{}
	out := race.TypedRaceFields{SkippedRows: raw.SkippedRows}

	seen := make(map[int]bool, len(raw.Entrants))
	for _, row := range raw.Entrants {
		lane, ok := n.lane(row)
		if !ok || seen[lane] {
			out.SkippedRows++
			continue
		}
		seen[lane] = true
		out.Entrants = append(out.Entrants, n.entrant(lane, row))
	}

	if raw.Weather != nil {
		out.Weather = n.weather(*raw.Weather)
	}
	out.Results = n.results(raw.Results)
	out.Warnings = n.warnings
	return out
}

type normalizer struct {
	warnings []race.FieldWarning
}

func (n *normalizer) warn(kind race.WarningKind, lane int, field, text string, err error) {
	n.warnings = append(n.warnings, race.FieldWarning{
		Kind:  kind,
		Lane:  lane,
		Field: field,
		Text:  text,
		Err:   err,
	})
}

// lane reads cell 0, falling back to the row's position in the table.
func (n *normalizer) lane(row race.RawEntrantRow) (int, bool) {
	text := Text(row.Lane)
	if v, err := strconv.Atoi(text); err == nil && validLane(v) {
		return v, true
	}
	if validLane(row.Position) {
		n.warn(race.WarningDefaulted, row.Position, FieldLane, row.Lane, nil)
		return row.Position, true
	}
	n.warn(race.WarningUnparseable, 0, FieldLane, row.Lane, nil)
	return 0, false
}

func (n *normalizer) entrant(lane int, row race.RawEntrantRow) race.TypedEntrant {
	timing, flag := n.startTiming(lane, row.StartTiming)
	e := race.TypedEntrant{
		Lane:            lane,
		MotorNo:         n.integer(lane, FieldMotorNo, row.MotorNo),
		ExhibitionTime:  n.number(lane, FieldExhibitionTime, row.ExhibitionTime),
		WinRate:         n.number(lane, FieldWinRate, row.WinRate),
		TwoPlaceWinRate: n.number(lane, FieldTwoPlaceWinRate, row.TwoPlaceWinRate),
		Weight:          n.number(lane, FieldWeight, row.Weight, "kg"),
		StartTiming:     timing,
		StartFlag:       flag,
		ApproachCourse:  n.approachCourse(lane, row.ApproachCourse),

		MotorWinRate:         n.optional(lane, FieldMotorWinRate, row.MotorWinRate),
		MotorTwoPlaceWinRate: n.optional(lane, FieldMotorTwoPlace, row.MotorTwoPlaceWinRate),
		StraightTime:         n.optional(lane, FieldStraightTime, row.StraightTime),
		TurnTime:             n.optional(lane, FieldTurnTime, row.TurnTime),
	}
	return e
}

// startTiming strips a leading false-start (F) or late-start (L) marker.
func (n *normalizer) startTiming(lane int, raw string) (float64, string) {
	text := Text(raw)
	flag := ""
	if text != "" {
		switch upper := strings.ToUpper(text[:1]); upper {
		case "F", "L":
			flag = upper
			text = strings.TrimSpace(text[1:])
		}
	}
	v, ok := ParseFloat(text)
	if !ok {
		n.warn(race.WarningUnparseable, lane, FieldStartTiming, raw, nil)
		return 0, flag
	}
	return v, flag
}

// approachCourse defaults to the lane when the column is absent. A blank or
// invalid value falls back to the lane with a warning.
func (n *normalizer) approachCourse(lane int, raw *string) int {
	if raw == nil {
		return lane
	}
	text := Text(*raw)
	if text == "" {
		n.warn(race.WarningDefaulted, lane, FieldApproachCourse, *raw, nil)
		return lane
	}
	v, err := strconv.Atoi(text)
	if err != nil || !validLane(v) {
		n.warn(race.WarningUnparseable, lane, FieldApproachCourse, *raw, err)
		return lane
	}
	return v
}

func (n *normalizer) weather(raw race.RawWeather) *race.TypedWeather {
	return &race.TypedWeather{
		Label:      Text(raw.Label),
		WindSpeed:  n.windSpeed(raw.Wind),
		WaveHeight: n.waveHeight(raw.Wave),
		AirTemp:    n.number(0, FieldAirTemp, raw.AirTemp, "°C", "℃"),
		WaterTemp:  n.number(0, FieldWaterTemp, raw.WaterTemp, "°C", "℃"),
	}
}

func (n *normalizer) windSpeed(raw string) float64 {
	text := Text(raw)
	for _, calm := range calmWind {
		if strings.EqualFold(text, calm) {
			return 0
		}
	}
	return n.number(0, FieldWindSpeed, raw, "m/s", "m")
}

// waveHeight requires the "cm" suffix; a reading without it is defaulted.
func (n *normalizer) waveHeight(raw string) float64 {
	text := Text(raw)
	if text == "" {
		return 0
	}
	if !strings.HasSuffix(strings.ToLower(text), "cm") {
		n.warn(race.WarningDefaulted, 0, FieldWaveHeight, raw, nil)
		return 0
	}
	return n.number(0, FieldWaveHeight, raw, "cm")
}

func (n *normalizer) results(rows []race.RawResultRow) []race.TypedResult {
	if len(rows) == 0 {
		return nil
	}
	out := make([]race.TypedResult, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		lane, err := strconv.Atoi(Text(row.Lane))
		if err != nil || !validLane(lane) {
			n.warn(race.WarningUnparseable, 0, FieldResultLane, row.Lane, err)
			continue
		}
		if seen[lane] {
			continue
		}
		seen[lane] = true
		finish := Text(row.Finish)
		res := race.TypedResult{Lane: lane}
		if rank, err := strconv.Atoi(finish); err == nil && validLane(rank) {
			res.FinishingRank = &rank
		} else {
			res.FinishCode = finish
		}
		out = append(out, res)
	}
	return out
}

// number parses a decimal after removing any of the given unit suffixes.
func (n *normalizer) number(lane int, field, raw string, suffixes ...string) float64 {
	text := TrimSuffixes(Text(raw), suffixes...)
	v, ok := ParseFloat(text)
	if !ok {
		n.warn(race.WarningUnparseable, lane, field, raw, nil)
		return 0
	}
	return v
}

func (n *normalizer) integer(lane int, field, raw string) int {
	text := Text(raw)
	if text == "" {
		return 0
	}
	v, err := strconv.Atoi(text)
	if err != nil || v < 0 {
		n.warn(race.WarningUnparseable, lane, field, raw, err)
		return 0
	}
	return v
}

// optional parses a trailing column; absent or blank cells stay nil.
func (n *normalizer) optional(lane int, field string, raw *string) *float64 {
	if raw == nil || Text(*raw) == "" {
		return nil
	}
	v := n.number(lane, field, *raw)
	return &v
}

// Text folds s with NFKC and trims surrounding whitespace.
func Text(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// TrimSuffixes removes the first matching unit suffix, case-insensitively.
func TrimSuffixes(text string, suffixes ...string) string {
	lower := strings.ToLower(text)
	for _, suffix := range suffixes {
		s := strings.ToLower(norm.NFKC.String(suffix))
		if strings.HasSuffix(lower, s) {
			return strings.TrimSpace(text[:len(text)-len(s)])
		}
	}
	return text
}

// ParseFloat parses already-folded text. Blank text is the 0.0 sentinel;
// NaN and infinities are rejected.
func ParseFloat(text string) (float64, bool) {
	if text == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func validLane(v int) bool {
	return v >= race.MinLane && v <= race.MaxLanes
}
