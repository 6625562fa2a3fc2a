// Package derive turns normalized race fields into keyed, persistable records.
package derive

import (
	"sort"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// Derive computes exhibition ranks and builds the records for one race.
func Derive(key race.Key, typed race.TypedRaceFields) race.EnrichedRaceFields {
	out := race.EnrichedRaceFields{
		Key:         key,
		SkippedRows: typed.SkippedRows,
		Warnings:    typed.Warnings,
	}

	ranks := ExhibitionRanks(typed.Entrants)
	motorSeen := make(map[int]bool, len(typed.Entrants))
	for _, e := range typed.Entrants {
		out.Entries = append(out.Entries, race.Entry{
			Key:             key,
			Lane:            e.Lane,
			MotorNo:         e.MotorNo,
			WinRate:         e.WinRate,
			TwoPlaceWinRate: e.TwoPlaceWinRate,
			Weight:          e.Weight,
			StartTiming:     e.StartTiming,
			StartFlag:       e.StartFlag,
			ApproachCourse:  e.ApproachCourse,
		})
		out.Exhibitions = append(out.Exhibitions, race.Exhibition{
			Key:            key,
			Lane:           e.Lane,
			ExhibitionTime: e.ExhibitionTime,
			ExhibitionRank: ranks[e.Lane],
			StraightTime:   e.StraightTime,
			TurnTime:       e.TurnTime,
		})
		if motor, ok := motorRecord(key, e); ok && !motorSeen[motor.MotorNo] {
			motorSeen[motor.MotorNo] = true
			out.Motors = append(out.Motors, motor)
		}
	}

	if w := typed.Weather; w != nil {
		out.Weather = &race.Weather{
			Key:        key,
			Label:      w.Label,
			WindSpeed:  w.WindSpeed,
			WaveHeight: w.WaveHeight,
			AirTemp:    w.AirTemp,
			WaterTemp:  w.WaterTemp,
		}
	}

	for _, r := range typed.Results {
		out.Results = append(out.Results, race.Result{
			Key:           key,
			Lane:          r.Lane,
			FinishingRank: r.FinishingRank,
			FinishCode:    r.FinishCode,
		})
	}
	return out
}

// ExhibitionRanks ranks lanes by exhibition time, fastest first, breaking
// ties by lane. Blank (0.0) times rank after every measured lane. Ranks run
// 1..N over the lanes present and are keyed by lane.
func ExhibitionRanks(entrants []race.TypedEntrant) map[int]int {
	order := make([]race.TypedEntrant, len(entrants))
	copy(order, entrants)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		aBlank, bBlank := a.ExhibitionTime == 0, b.ExhibitionTime == 0
		if aBlank != bBlank {
			return bBlank
		}
		if a.ExhibitionTime != b.ExhibitionTime {
			return a.ExhibitionTime < b.ExhibitionTime
		}
		return a.Lane < b.Lane
	})
	ranks := make(map[int]int, len(order))
	for i, e := range order {
		ranks[e.Lane] = i + 1
	}
	return ranks
}

// motorRecord builds a motor row only when the page carried motor stats.
func motorRecord(key race.Key, e race.TypedEntrant) (race.Motor, bool) {
	if e.MotorNo <= 0 || (e.MotorWinRate == nil && e.MotorTwoPlaceWinRate == nil) {
		return race.Motor{}, false
	}
	m := race.Motor{
		Venue:   key.Venue,
		Date:    key.Date,
		MotorNo: e.MotorNo,
	}
	if e.MotorWinRate != nil {
		m.WinRate = *e.MotorWinRate
	}
	if e.MotorTwoPlaceWinRate != nil {
		m.TwoPlaceWinRate = *e.MotorTwoPlaceWinRate
	}
	return m, true
}
