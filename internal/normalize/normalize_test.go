package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

func strPtr(s string) *string { return &s }

func entrantRow(pos int, lane string) race.RawEntrantRow {
	return race.RawEntrantRow{
		Position:        pos,
		Lane:            lane,
		MotorNo:         "23",
		ExhibitionTime:  "6.51",
		WinRate:         "6.20",
		TwoPlaceWinRate: "45.5",
		Weight:          "52.0kg",
		StartTiming:     "0.12",
	}
}

func TestNormalizeEntrant(t *testing.T) {
	t.Parallel()

	row := entrantRow(1, "1")
	row.MotorWinRate = strPtr("38.2")
	row.MotorTwoPlaceWinRate = strPtr("52.1")
	row.ApproachCourse = strPtr("2")
	row.StraightTime = strPtr("7.01")
	row.TurnTime = strPtr("")

	typed := Normalize(race.RawRaceFields{Entrants: []race.RawEntrantRow{row}})
	require.Len(t, typed.Entrants, 1)
	e := typed.Entrants[0]
	assert.Equal(t, 1, e.Lane)
	assert.Equal(t, 23, e.MotorNo)
	assert.InDelta(t, 6.51, e.ExhibitionTime, 1e-9)
	assert.InDelta(t, 6.20, e.WinRate, 1e-9)
	assert.InDelta(t, 45.5, e.TwoPlaceWinRate, 1e-9)
	assert.InDelta(t, 52.0, e.Weight, 1e-9)
	assert.InDelta(t, 0.12, e.StartTiming, 1e-9)
	assert.Empty(t, e.StartFlag)
	assert.Equal(t, 2, e.ApproachCourse)
	require.NotNil(t, e.MotorWinRate)
	assert.InDelta(t, 38.2, *e.MotorWinRate, 1e-9)
	require.NotNil(t, e.StraightTime)
	assert.Nil(t, e.TurnTime, "blank optional cell stays absent")
	assert.Empty(t, typed.Warnings)
}

func TestBlankNumericDefaultsToZero(t *testing.T) {
	t.Parallel()

	row := entrantRow(1, "1")
	row.WinRate = ""
	row.ExhibitionTime = "  "
	row.MotorNo = ""

	typed := Normalize(race.RawRaceFields{Entrants: []race.RawEntrantRow{row}})
	require.Len(t, typed.Entrants, 1)
	assert.Zero(t, typed.Entrants[0].WinRate)
	assert.Zero(t, typed.Entrants[0].ExhibitionTime)
	assert.Zero(t, typed.Entrants[0].MotorNo)
	assert.Empty(t, typed.Warnings, "blank text is not a warning")
}

func TestUnparseableFieldWarns(t *testing.T) {
	t.Parallel()

	row := entrantRow(2, "2")
	row.WinRate = "abc"
	row.Weight = "NaN"

	typed := Normalize(race.RawRaceFields{Entrants: []race.RawEntrantRow{row}})
	require.Len(t, typed.Entrants, 1)
	assert.Zero(t, typed.Entrants[0].WinRate)
	assert.Zero(t, typed.Entrants[0].Weight)
	require.Len(t, typed.Warnings, 2)
	for _, w := range typed.Warnings {
		assert.Equal(t, race.WarningUnparseable, w.Kind)
		assert.Equal(t, 2, w.Lane)
	}
	assert.Equal(t, FieldWinRate, typed.Warnings[0].Field)
	assert.Equal(t, "abc", typed.Warnings[0].Text)
}

func TestStartTimingFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want float64
		flag string
	}{
		{"0.12", 0.12, ""},
		{".08", 0.08, ""},
		{"F.01", 0.01, "F"},
		{"Ｆ.02", 0.02, "F"},
		{"L", 0, "L"},
		{"", 0, ""},
	}
	for _, tc := range cases {
		n := &normalizer{}
		got, flag := n.startTiming(1, tc.raw)
		assert.InDelta(t, tc.want, got, 1e-9, tc.raw)
		assert.Equal(t, tc.flag, flag, tc.raw)
		assert.Empty(t, n.warnings, tc.raw)
	}
}

func TestFullWidthDigits(t *testing.T) {
	t.Parallel()

	row := entrantRow(1, "１")
	row.ExhibitionTime = "６．５１"
	row.Weight = "５２．０ｋｇ"

	typed := Normalize(race.RawRaceFields{Entrants: []race.RawEntrantRow{row}})
	require.Len(t, typed.Entrants, 1)
	assert.Equal(t, 1, typed.Entrants[0].Lane)
	assert.InDelta(t, 6.51, typed.Entrants[0].ExhibitionTime, 1e-9)
	assert.InDelta(t, 52.0, typed.Entrants[0].Weight, 1e-9)
	assert.Empty(t, typed.Warnings)
}

func TestWindRules(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"no wind": 0,
		"無風":      0,
		"3.5m":    3.5,
		"３ｍ":      3,
		"4m/s":    4,
		"":        0,
	}
	for raw, want := range cases {
		n := &normalizer{}
		assert.InDelta(t, want, n.windSpeed(raw), 1e-9, raw)
		assert.Empty(t, n.warnings, raw)
	}

	n := &normalizer{}
	assert.Zero(t, n.windSpeed("breezy"))
	require.Len(t, n.warnings, 1)
	assert.Equal(t, FieldWindSpeed, n.warnings[0].Field)
}

func TestWaveRules(t *testing.T) {
	t.Parallel()

	n := &normalizer{}
	assert.InDelta(t, 5, n.waveHeight("5cm"), 1e-9)
	assert.Zero(t, n.waveHeight(""))
	assert.Empty(t, n.warnings)

	assert.Zero(t, n.waveHeight("5"))
	require.Len(t, n.warnings, 1)
	assert.Equal(t, race.WarningDefaulted, n.warnings[0].Kind)
}

func TestWeatherTemperatures(t *testing.T) {
	t.Parallel()

	typed := Normalize(race.RawRaceFields{
		Entrants: []race.RawEntrantRow{entrantRow(1, "1")},
		Weather: &race.RawWeather{
			Label:     " 晴 ",
			Wind:      "3m",
			Wave:      "2cm",
			AirTemp:   "12.0℃",
			WaterTemp: "10.5°C",
		},
	})
	require.NotNil(t, typed.Weather)
	assert.Equal(t, "晴", typed.Weather.Label)
	assert.InDelta(t, 3, typed.Weather.WindSpeed, 1e-9)
	assert.InDelta(t, 2, typed.Weather.WaveHeight, 1e-9)
	assert.InDelta(t, 12.0, typed.Weather.AirTemp, 1e-9)
	assert.InDelta(t, 10.5, typed.Weather.WaterTemp, 1e-9)
	assert.Empty(t, typed.Warnings)
}

func TestLaneFallbackAndDuplicates(t *testing.T) {
	t.Parallel()

	typed := Normalize(race.RawRaceFields{
		SkippedRows: 1,
		Entrants: []race.RawEntrantRow{
			entrantRow(1, "1"),
			entrantRow(2, "?"),
			entrantRow(3, "2"),
			entrantRow(9, "x"),
		},
	})
	require.Len(t, typed.Entrants, 2)
	assert.Equal(t, 1, typed.Entrants[0].Lane)
	assert.Equal(t, 2, typed.Entrants[1].Lane, "unparseable lane falls back to position")
	assert.Equal(t, 3, typed.SkippedRows, "duplicate lane and unplaceable row are skipped")

	kinds := make([]race.WarningKind, 0, len(typed.Warnings))
	for _, w := range typed.Warnings {
		kinds = append(kinds, w.Kind)
	}
	assert.Equal(t, []race.WarningKind{race.WarningDefaulted, race.WarningUnparseable}, kinds)
}

func TestApproachCourse(t *testing.T) {
	t.Parallel()

	n := &normalizer{}
	assert.Equal(t, 3, n.approachCourse(3, nil))
	assert.Empty(t, n.warnings, "absent column defaults silently")
	assert.Equal(t, 3, n.approachCourse(3, strPtr("")))
	assert.Equal(t, 3, n.approachCourse(3, strPtr("9")))
	assert.Equal(t, 1, n.approachCourse(3, strPtr("1")))
	require.Len(t, n.warnings, 2)
	assert.Equal(t, race.WarningDefaulted, n.warnings[0].Kind)
	assert.Equal(t, race.WarningUnparseable, n.warnings[1].Kind)
}

func TestResults(t *testing.T) {
	t.Parallel()

	typed := Normalize(race.RawRaceFields{
		Entrants: []race.RawEntrantRow{entrantRow(1, "1")},
		Results: []race.RawResultRow{
			{Finish: "１", Lane: "3"},
			{Finish: "2", Lane: "1"},
			{Finish: "Ｆ", Lane: "5"},
			{Finish: "転", Lane: "6"},
			{Finish: "3", Lane: "z"},
		},
	})
	require.Len(t, typed.Results, 4)
	require.NotNil(t, typed.Results[0].FinishingRank)
	assert.Equal(t, 1, *typed.Results[0].FinishingRank)
	assert.Equal(t, 3, typed.Results[0].Lane)
	assert.Nil(t, typed.Results[2].FinishingRank)
	assert.Equal(t, "F", typed.Results[2].FinishCode)
	assert.Equal(t, "転", typed.Results[3].FinishCode)
	require.Len(t, typed.Warnings, 1)
	assert.Equal(t, FieldResultLane, typed.Warnings[0].Field)
}

func TestParseFloat(t *testing.T) {
	t.Parallel()

	v, ok := ParseFloat("")
	assert.True(t, ok)
	assert.Zero(t, v)

	v, ok = ParseFloat("3.5")
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 1e-9)

	for _, bad := range []string{"Inf", "NaN", "1.2.3", "abc"} {
		_, ok = ParseFloat(bad)
		assert.False(t, ok, bad)
	}
}
