// Package schema defines the relational contract shared by every store
// backend: table layouts, write policies and the SQL rendered from them.
package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// Dialect selects SQL rendering for a backend.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// TimeArg converts a timestamp to the value bound for this dialect.
func (d Dialect) TimeArg(t time.Time) any {
	if d == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// WritePolicy decides what happens when a row's key already exists.
type WritePolicy int

// Replace overwrites every non-key column; Ignore keeps the first write.
const (
	Replace WritePolicy = iota
	Ignore
)

// ColumnType is a portable column type.
type ColumnType int

// Column types.
const (
	Text ColumnType = iota
	Integer
	Real
	Bool
	Timestamp
)

func (c ColumnType) sql(d Dialect) string {
	switch c {
	case Integer:
		return "INTEGER"
	case Real:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case Bool:
		if d == Postgres {
			return "BOOLEAN"
		}
		return "INTEGER"
	case Timestamp:
		if d == Postgres {
			return "TIMESTAMPTZ"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// Column is a named, typed column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Check    string
}

// Table describes one relation.
type Table struct {
	Name    string
	Key     []Column
	Columns []Column
	Policy  WritePolicy
}

var (
	venueCol = Column{Name: "venue_code", Type: Text}
	dateCol  = Column{Name: "race_date", Type: Text}
	raceCol  = Column{Name: "race_no", Type: Integer, Check: "race_no >= 1"}
	laneCol  = Column{Name: "lane", Type: Integer, Check: fmt.Sprintf("lane BETWEEN %d AND %d", race.MinLane, race.MaxLanes)}
)

// Tables, in the order a race batch writes them.
var (
	Entries = Table{
		Name: "entries",
		Key:  []Column{venueCol, dateCol, raceCol, laneCol},
		Columns: []Column{
			{Name: "motor_no", Type: Integer},
			{Name: "win_rate", Type: Real},
			{Name: "two_place_win_rate", Type: Real},
			{Name: "weight", Type: Real},
			{Name: "start_timing", Type: Real},
			{Name: "start_flag", Type: Text},
			{Name: "approach_course", Type: Integer},
		},
		Policy: Replace,
	}
	Motors = Table{
		Name: "motors",
		Key:  []Column{venueCol, dateCol, {Name: "motor_no", Type: Integer}},
		Columns: []Column{
			{Name: "win_rate", Type: Real},
			{Name: "two_place_win_rate", Type: Real},
		},
		Policy: Ignore,
	}
	Exhibitions = Table{
		Name: "exhibitions",
		Key:  []Column{venueCol, dateCol, raceCol, laneCol},
		Columns: []Column{
			{Name: "exhibition_time", Type: Real},
			{Name: "exhibition_rank", Type: Integer},
			{Name: "straight_time", Type: Real, Nullable: true},
			{Name: "turn_time", Type: Real, Nullable: true},
		},
		Policy: Replace,
	}
	WeatherTable = Table{
		Name: "weather",
		Key:  []Column{venueCol, dateCol, raceCol},
		Columns: []Column{
			{Name: "weather_label", Type: Text},
			{Name: "wind_speed", Type: Real},
			{Name: "wave_height", Type: Real},
			{Name: "air_temp", Type: Real},
			{Name: "water_temp", Type: Real},
		},
		Policy: Replace,
	}
	Results = Table{
		Name: "results",
		Key:  []Column{venueCol, dateCol, raceCol, laneCol},
		Columns: []Column{
			{Name: "finishing_rank", Type: Integer, Nullable: true},
			{Name: "finish_code", Type: Text},
		},
		Policy: Replace,
	}
	Ingestions = Table{
		Name: "race_ingestions",
		Key:  []Column{venueCol, dateCol, raceCol},
		Columns: []Column{
			{Name: "status", Type: Text},
			{Name: "complete", Type: Bool},
			{Name: "lane_count", Type: Integer},
			{Name: "skipped_rows", Type: Integer},
			{Name: "warning_count", Type: Integer},
			{Name: "content_hash", Type: Text},
			{Name: "ingested_at", Type: Timestamp},
		},
		Policy: Replace,
	}
)

// All lists every table in creation order.
func All() []Table {
	return []Table{Entries, Motors, Exhibitions, WeatherTable, Results, Ingestions}
}

// RecordTables are the tables holding race data, excluding bookkeeping.
func RecordTables() []Table {
	return []Table{Entries, Motors, Exhibitions, WeatherTable, Results}
}

func names(cols []Column) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.Name)
	}
	return out
}

// ColumnNames returns key columns followed by value columns.
func (t Table) ColumnNames() []string {
	return append(names(t.Key), names(t.Columns)...)
}

// CreateSQL renders the CREATE TABLE statement.
func (t Table) CreateSQL(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for _, c := range append(append([]Column{}, t.Key...), t.Columns...) {
		fmt.Fprintf(&b, "\t%s %s", c.Name, c.Type.sql(d))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Check != "" {
			fmt.Fprintf(&b, " CHECK (%s)", c.Check)
		}
		b.WriteString(",\n")
	}
	fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n)", strings.Join(names(t.Key), ", "))
	return b.String()
}

// UpsertSQL renders an INSERT honoring the table's write policy.
func (t Table) UpsertSQL(d Dialect) string {
	cols := t.ColumnNames()
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = d.placeholder(i + 1)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		t.Name, strings.Join(cols, ", "), strings.Join(ph, ", "), strings.Join(names(t.Key), ", "))
	if t.Policy == Ignore {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	sets := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// CountSQL renders a row count for the table.
func (t Table) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Name)
}

// CreateStatements returns the DDL for every table.
func CreateStatements(d Dialect) []string {
	out := make([]string, 0, len(All())+1)
	for _, t := range All() {
		out = append(out, t.CreateSQL(d))
	}
	out = append(out, "CREATE INDEX IF NOT EXISTS idx_entries_motor ON entries (venue_code, race_date, motor_no)")
	return out
}

// FeatureJoinSQL selects one row per lane of a race for model training.
func FeatureJoinSQL(d Dialect) string {
	return fmt.Sprintf(`SELECT e.lane,
	x.exhibition_time,
	x.straight_time,
	x.turn_time,
	m.win_rate,
	m.two_place_win_rate,
	e.win_rate,
	e.two_place_win_rate,
	r.finishing_rank
FROM entries e
JOIN exhibitions x
	ON x.venue_code = e.venue_code AND x.race_date = e.race_date AND x.race_no = e.race_no AND x.lane = e.lane
LEFT JOIN motors m
	ON m.venue_code = e.venue_code AND m.race_date = e.race_date AND m.motor_no = e.motor_no
LEFT JOIN results r
	ON r.venue_code = e.venue_code AND r.race_date = e.race_date AND r.race_no = e.race_no AND r.lane = e.lane
WHERE e.venue_code = %s AND e.race_date = %s AND e.race_no = %s
ORDER BY e.lane`, d.placeholder(1), d.placeholder(2), d.placeholder(3))
}

// IngestionSQL selects the bookkeeping row for a race.
func IngestionSQL(d Dialect) string {
	return fmt.Sprintf(`SELECT status, complete, lane_count, skipped_rows, warning_count, content_hash, ingested_at
FROM race_ingestions
WHERE venue_code = %s AND race_date = %s AND race_no = %s`, d.placeholder(1), d.placeholder(2), d.placeholder(3))
}

// KeyArgs returns the bind arguments for a race key.
func KeyArgs(key race.Key) []any {
	return []any{key.Venue, key.Date, key.RaceNo}
}

// ScanFeatureRow reads one feature-join row through scan.
func ScanFeatureRow(scan func(dest ...any) error) (race.FeatureRow, error) {
	var row race.FeatureRow
	var rank *int64
	if err := scan(
		&row.Lane,
		&row.ExhibitionTime,
		&row.StraightTime,
		&row.TurnTime,
		&row.MotorWinRate,
		&row.MotorTwoWinRate,
		&row.PlayerWinRate,
		&row.PlayerTwoWinRate,
		&rank,
	); err != nil {
		return race.FeatureRow{}, fmt.Errorf("scan feature row: %w", err)
	}
	if rank != nil {
		v := int(*rank)
		row.FinishingRank = &v
	}
	return row, nil
}

// Execer runs one statement inside the caller's transaction.
type Execer func(ctx context.Context, query string, args ...any) error

// Writer renders and executes record writes for a dialect.
type Writer struct {
	Dialect Dialect
	Exec    Execer
}

// WriteBatch writes every record of a race in table order.
func (w Writer) WriteBatch(ctx context.Context, b race.Batch) error {
	if err := w.Entries(ctx, b.Entries); err != nil {
		return err
	}
	if err := w.Motors(ctx, b.Motors); err != nil {
		return err
	}
	if err := w.Exhibitions(ctx, b.Exhibitions); err != nil {
		return err
	}
	if b.Weather != nil {
		if err := w.Weather(ctx, []race.Weather{*b.Weather}); err != nil {
			return err
		}
	}
	if err := w.Results(ctx, b.Results); err != nil {
		return err
	}
	return w.Ingestion(ctx, b.Ingestion)
}

// Entries writes entry rows.
func (w Writer) Entries(ctx context.Context, rows []race.Entry) error {
	q := Entries.UpsertSQL(w.Dialect)
	for _, e := range rows {
		if err := w.Exec(ctx, q, e.Venue, e.Date, e.RaceNo, e.Lane,
			e.MotorNo, e.WinRate, e.TwoPlaceWinRate, e.Weight, e.StartTiming, e.StartFlag, e.ApproachCourse,
		); err != nil {
			return fmt.Errorf("upsert %s lane %d: %w", Entries.Name, e.Lane, err)
		}
	}
	return nil
}

// Motors writes motor rows; existing motors keep their first values.
func (w Writer) Motors(ctx context.Context, rows []race.Motor) error {
	q := Motors.UpsertSQL(w.Dialect)
	for _, m := range rows {
		if err := w.Exec(ctx, q, m.Venue, m.Date, m.MotorNo, m.WinRate, m.TwoPlaceWinRate); err != nil {
			return fmt.Errorf("upsert %s motor %d: %w", Motors.Name, m.MotorNo, err)
		}
	}
	return nil
}

// Exhibitions writes exhibition rows.
func (w Writer) Exhibitions(ctx context.Context, rows []race.Exhibition) error {
	q := Exhibitions.UpsertSQL(w.Dialect)
	for _, x := range rows {
		if err := w.Exec(ctx, q, x.Venue, x.Date, x.RaceNo, x.Lane,
			x.ExhibitionTime, x.ExhibitionRank, x.StraightTime, x.TurnTime,
		); err != nil {
			return fmt.Errorf("upsert %s lane %d: %w", Exhibitions.Name, x.Lane, err)
		}
	}
	return nil
}

// Weather writes weather rows.
func (w Writer) Weather(ctx context.Context, rows []race.Weather) error {
	q := WeatherTable.UpsertSQL(w.Dialect)
	for _, wx := range rows {
		if err := w.Exec(ctx, q, wx.Venue, wx.Date, wx.RaceNo,
			wx.Label, wx.WindSpeed, wx.WaveHeight, wx.AirTemp, wx.WaterTemp,
		); err != nil {
			return fmt.Errorf("upsert %s %s: %w", WeatherTable.Name, wx.Key, err)
		}
	}
	return nil
}

// Results writes finishing-order rows.
func (w Writer) Results(ctx context.Context, rows []race.Result) error {
	q := Results.UpsertSQL(w.Dialect)
	for _, r := range rows {
		if err := w.Exec(ctx, q, r.Venue, r.Date, r.RaceNo, r.Lane, r.FinishingRank, r.FinishCode); err != nil {
			return fmt.Errorf("upsert %s lane %d: %w", Results.Name, r.Lane, err)
		}
	}
	return nil
}

// Ingestion writes the bookkeeping row for a race.
func (w Writer) Ingestion(ctx context.Context, in race.Ingestion) error {
	if err := w.Exec(ctx, Ingestions.UpsertSQL(w.Dialect),
		in.Venue, in.Date, in.RaceNo,
		string(in.Status), in.Complete, in.LaneCount, in.SkippedRows, in.WarningCount, in.ContentHash,
		w.Dialect.TimeArg(in.IngestedAt),
	); err != nil {
		return fmt.Errorf("upsert %s %s: %w", Ingestions.Name, in.Key, err)
	}
	return nil
}
