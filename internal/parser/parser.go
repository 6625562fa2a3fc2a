// Package parser extracts raw field text from boatrace.jp race pages.
//
// The parser is purely structural: it locates the entrant table, the weather
// block and the finishing-order table and returns their cell text untouched.
// Interpreting the text is the normalizer's job.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// Selectors for the page sections.
const (
	EntrantRowSelector   = "div.race_table_01 tr"
	WeatherSelector      = ".weather1_body"
	WeatherUnitSelector  = "div.weather1_bodyUnit"
	WeatherLabelSelector = ".weather1_bodyUnitLabel"
	WeatherDataSelector  = ".weather1_bodyUnitLabelData"
	ResultRowSelector    = "div.table1 table.is-w495 tbody tr"
)

// Entrant table column layout.
const (
	colLane = iota
	colRacerID
	colRacerName
	colMotorNo
	colExhibitionTime
	colBoatNo
	colWinRate
	colTwoPlaceWinRate
	colWeight
	colStartTiming
	colMotorWinRate
	colMotorTwoPlaceWinRate
	colApproachCourse
	colStraightTime
	colTurnTime
)

// MinEntrantColumns is the narrowest entrant row that can be used.
const MinEntrantColumns = colStartTiming + 1

// weatherUnits is the number of units a complete weather block carries:
// the label unit followed by wind, wave, air and water temperature.
const weatherUnits = 5

// Parse extracts every section of a race page.
func Parse(raw []byte) (race.RawRaceFields, error) {
	doc, err := load(raw)
	if err != nil {
		return race.RawRaceFields{}, err
	}

	entrants, skipped, err := parseEntrants(doc)
	if err != nil {
		return race.RawRaceFields{}, err
	}
	fields := race.RawRaceFields{
		Entrants:    entrants,
		SkippedRows: skipped,
	}

	weather, note := parseWeather(doc)
	fields.Weather = weather
	if note != "" {
		fields.Notes = append(fields.Notes, note)
	}
	fields.Results = parseResults(doc)
	return fields, nil
}

// ParseResults extracts only the finishing-order table. A page without one
// yields no rows and no error.
func ParseResults(raw []byte) ([]race.RawResultRow, error) {
	doc, err := load(raw)
	if err != nil {
		return nil, err
	}
	return parseResults(doc), nil
}

func load(raw []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &race.ParseError{Kind: race.StructureMissing, Detail: "empty page"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &race.ParseError{Kind: race.StructureMissing, Detail: "unreadable markup", Err: err}
	}
	return doc, nil
}

func parseEntrants(doc *goquery.Document) ([]race.RawEntrantRow, int, error) {
	rows := doc.Find(EntrantRowSelector)
	if rows.Length() == 0 {
		return nil, 0, &race.ParseError{Kind: race.StructureMissing, Detail: "entrant table not found"}
	}
	if rows.Length() < 2 {
		return nil, 0, &race.ParseError{Kind: race.StructureMissing, Detail: "entrant table has no data rows"}
	}

	// The first row is the header; at most one row per lane follows.
	data := rows.Slice(1, min(rows.Length(), race.MaxLanes+1))
	entrants := make([]race.RawEntrantRow, 0, data.Length())
	skipped := 0
	data.Each(func(i int, row *goquery.Selection) {
		cells := cellTexts(row.Find("td"))
		if len(cells) < MinEntrantColumns {
			skipped++
			return
		}
		entrants = append(entrants, entrantFromCells(i+1, cells))
	})
	return entrants, skipped, nil
}

func entrantFromCells(position int, cells []string) race.RawEntrantRow {
	return race.RawEntrantRow{
		Position:             position,
		Lane:                 cells[colLane],
		RacerID:              cells[colRacerID],
		RacerName:            cells[colRacerName],
		MotorNo:              cells[colMotorNo],
		ExhibitionTime:       cells[colExhibitionTime],
		BoatNo:               cells[colBoatNo],
		WinRate:              cells[colWinRate],
		TwoPlaceWinRate:      cells[colTwoPlaceWinRate],
		Weight:               cells[colWeight],
		StartTiming:          cells[colStartTiming],
		MotorWinRate:         optionalCell(cells, colMotorWinRate),
		MotorTwoPlaceWinRate: optionalCell(cells, colMotorTwoPlaceWinRate),
		ApproachCourse:       optionalCell(cells, colApproachCourse),
		StraightTime:         optionalCell(cells, colStraightTime),
		TurnTime:             optionalCell(cells, colTurnTime),
	}
}

func parseWeather(doc *goquery.Document) (*race.RawWeather, string) {
	block := doc.Find(WeatherSelector).First()
	if block.Length() == 0 {
		return nil, ""
	}
	units := block.Find(WeatherUnitSelector)
	if units.Length() < weatherUnits {
		return nil, fmt.Sprintf("weather block has %d of %d units; dropped", units.Length(), weatherUnits)
	}
	label := clean(block.Find(WeatherLabelSelector).First().Text())
	return &race.RawWeather{
		Label:     label,
		Wind:      unitValue(units.Eq(1)),
		Wave:      unitValue(units.Eq(2)),
		AirTemp:   unitValue(units.Eq(3)),
		WaterTemp: unitValue(units.Eq(4)),
	}, ""
}

// unitValue prefers the data span and falls back to the unit's full text.
func unitValue(unit *goquery.Selection) string {
	if data := unit.Find(WeatherDataSelector).First(); data.Length() > 0 {
		return clean(data.Text())
	}
	return clean(unit.Text())
}

func parseResults(doc *goquery.Document) []race.RawResultRow {
	var results []race.RawResultRow
	doc.Find(ResultRowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := cellTexts(row.Find("td"))
		if len(cells) < 2 || cells[1] == "" {
			return
		}
		results = append(results, race.RawResultRow{Finish: cells[0], Lane: cells[1]})
	})
	return results
}

func cellTexts(cells *goquery.Selection) []string {
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		out = append(out, clean(cell.Text()))
	})
	return out
}

func optionalCell(cells []string, idx int) *string {
	if idx >= len(cells) {
		return nil
	}
	v := cells[idx]
	return &v
}

// clean collapses internal whitespace runs and trims the ends.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
