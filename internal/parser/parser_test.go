package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestParseFullPage(t *testing.T) {
	t.Parallel()

	fields, err := Parse(readFixture(t, "race_full.html"))
	require.NoError(t, err)

	require.Len(t, fields.Entrants, 6)
	assert.Zero(t, fields.SkippedRows)

	first := fields.Entrants[0]
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "1", first.Lane)
	assert.Equal(t, "4321", first.RacerID)
	assert.Equal(t, "佐藤 次郎", first.RacerName)
	assert.Equal(t, "23", first.MotorNo)
	assert.Equal(t, "6.51", first.ExhibitionTime)
	assert.Equal(t, "6.20", first.WinRate)
	assert.Equal(t, "45.5", first.TwoPlaceWinRate)
	assert.Equal(t, "52.0kg", first.Weight)
	assert.Equal(t, "0.12", first.StartTiming)
	require.NotNil(t, first.MotorWinRate)
	assert.Equal(t, "38.2", *first.MotorWinRate)
	require.NotNil(t, first.ApproachCourse)
	assert.Equal(t, "1", *first.ApproachCourse)
	require.NotNil(t, first.TurnTime)
	assert.Equal(t, "5.51", *first.TurnTime)

	assert.Equal(t, "F.01", fields.Entrants[3].StartTiming)

	require.NotNil(t, fields.Weather)
	assert.Equal(t, "晴", fields.Weather.Label)
	assert.Equal(t, "３ｍ", fields.Weather.Wind)
	assert.Equal(t, "2cm", fields.Weather.Wave)
	assert.Equal(t, "12.0℃", fields.Weather.AirTemp)
	assert.Equal(t, "10.0℃", fields.Weather.WaterTemp)
	assert.Empty(t, fields.Notes)

	require.Len(t, fields.Results, 6)
	assert.Equal(t, race.RawResultRow{Finish: "１", Lane: "3"}, fields.Results[0])
	assert.Equal(t, race.RawResultRow{Finish: "Ｆ", Lane: "5"}, fields.Results[5])
}

func TestParsePartialPage(t *testing.T) {
	t.Parallel()

	fields, err := Parse(readFixture(t, "race_partial.html"))
	require.NoError(t, err)

	require.Len(t, fields.Entrants, 5)
	assert.Equal(t, 1, fields.SkippedRows)
	lanes := make([]string, 0, len(fields.Entrants))
	for _, e := range fields.Entrants {
		lanes = append(lanes, e.Lane)
		assert.Nil(t, e.MotorWinRate, "narrow table has no optional columns")
	}
	assert.Equal(t, []string{"1", "2", "4", "5", "6"}, lanes)
	assert.Equal(t, 4, fields.Entrants[2].Position)
	assert.Equal(t, "", fields.Entrants[1].ExhibitionTime)
	assert.Equal(t, "L", fields.Entrants[1].StartTiming)

	assert.Nil(t, fields.Weather, "incomplete weather block is dropped")
	require.Len(t, fields.Notes, 1)
	assert.Contains(t, fields.Notes[0], "weather")
	assert.Empty(t, fields.Results)
}

func TestParseMissingTable(t *testing.T) {
	t.Parallel()

	_, err := Parse(readFixture(t, "no_table.html"))
	require.Error(t, err)

	var parseErr *race.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, race.StructureMissing, parseErr.Kind)
}

func TestParseHeaderOnlyTable(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><body><div class="race_table_01"><table><tr><th>枠</th></tr></table></div></body></html>`)
	_, err := Parse(raw)
	var parseErr *race.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Detail, "no data rows")
}

func TestParseEmptyPage(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("   \n"))
	var parseErr *race.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, race.StructureMissing, parseErr.Kind)
}

func TestParseResults(t *testing.T) {
	t.Parallel()

	rows, err := ParseResults(readFixture(t, "results_only.html"))
	require.NoError(t, err)
	assert.Equal(t, []race.RawResultRow{
		{Finish: "1", Lane: "2"},
		{Finish: "2", Lane: "1"},
		{Finish: "転", Lane: "3"},
	}, rows)

	rows, err = ParseResults(readFixture(t, "no_table.html"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWeatherFallsBackToUnitText(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><body>
<div class="weather1_body">
  <div class="weather1_bodyUnit"><p class="weather1_bodyUnitLabel">曇り</p></div>
  <div class="weather1_bodyUnit">4m</div>
  <div class="weather1_bodyUnit">3cm</div>
  <div class="weather1_bodyUnit">15.0℃</div>
  <div class="weather1_bodyUnit">14.0℃</div>
</div>
<div class="race_table_01"><table>
<tr><th>枠</th></tr>
<tr><td>1</td><td>1</td><td>a</td><td>1</td><td>6.5</td><td>1</td><td>5</td><td>30</td><td>50kg</td><td>0.1</td></tr>
</table></div></body></html>`)
	fields, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, fields.Weather)
	assert.Equal(t, "曇り", fields.Weather.Label)
	assert.Equal(t, "4m", fields.Weather.Wind)
	assert.Equal(t, "14.0℃", fields.Weather.WaterTemp)
}
