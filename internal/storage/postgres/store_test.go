package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

var testKey = race.Key{Venue: "12", Date: "20240115", RaceNo: 3}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	st, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	return st, mock
}

func sampleBatch() race.Batch {
	rank := 1
	return race.Batch{
		Key:         testKey,
		Entries:     []race.Entry{{Key: testKey, Lane: 1, MotorNo: 23, WinRate: 6.1}},
		Motors:      []race.Motor{{Venue: "12", Date: "20240115", MotorNo: 23, WinRate: 41}},
		Exhibitions: []race.Exhibition{{Key: testKey, Lane: 1, ExhibitionTime: 6.5, ExhibitionRank: 1}},
		Weather:     &race.Weather{Key: testKey, Label: "晴", WindSpeed: 2},
		Results:     []race.Result{{Key: testKey, Lane: 1, FinishingRank: &rank}},
		Ingestion: race.Ingestion{
			Key: testKey, Status: race.StatusOK, Complete: true, LaneCount: 1,
			IngestedAt: time.Unix(1700000000, 0).UTC(),
		},
	}
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestWriteRaceCommits(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").
		WithArgs("12", "20240115", 3, 1, 23, 6.1, 0.0, 0.0, 0.0, "", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO motors .* DO NOTHING").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO exhibitions").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO weather").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO results").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO race_ingestions").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, st.WriteRace(context.Background(), sampleBatch()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRaceRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	boom := errors.New("check constraint violated")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO motors").WillReturnError(boom)
	mock.ExpectRollback()

	err := st.WriteRace(context.Background(), sampleBatch())
	var storeErr *race.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, race.TransactionFailed, storeErr.Kind)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRaceBeginFailure(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	err := st.WriteRace(context.Background(), sampleBatch())
	var storeErr *race.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Contains(t, err.Error(), "begin")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMotorsUsesOwnTransaction(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO motors").
		WithArgs("12", "20240115", 23, 41.0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	require.NoError(t, st.UpsertMotors(context.Background(), sampleBatch().Motors))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFeatureJoin(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	straight := 7.01
	motorWin, motorTwo := 41.0, 52.0
	rank := int64(2)
	cols := []string{
		"lane", "exhibition_time", "straight_time", "turn_time",
		"win_rate", "two_place_win_rate", "win_rate", "two_place_win_rate", "finishing_rank",
	}
	mock.ExpectQuery("SELECT e.lane").
		WithArgs("12", "20240115", 3).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(1, 6.51, &straight, nil, &motorWin, &motorTwo, 6.1, 40.0, &rank).
			AddRow(2, 6.52, nil, nil, nil, nil, 5.5, 35.0, nil))

	rows, err := st.QueryFeatureJoin(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Lane)
	require.NotNil(t, rows[0].StraightTime)
	assert.InDelta(t, 7.01, *rows[0].StraightTime, 1e-9)
	require.NotNil(t, rows[0].FinishingRank)
	assert.Equal(t, 2, *rows[0].FinishingRank)
	assert.Nil(t, rows[1].MotorWinRate)
	assert.Nil(t, rows[1].FinishingRank)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFeatureJoinUnknownRace(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT e.lane").
		WithArgs("01", "20240101", 1).
		WillReturnRows(pgxmock.NewRows([]string{"lane"}))

	rows, err := st.QueryFeatureJoin(context.Background(), race.Key{Venue: "01", Date: "20240101", RaceNo: 1})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestLookupIngestion(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	at := time.Date(2024, 1, 15, 21, 0, 0, 0, time.FixedZone("JST", 9*3600))
	mock.ExpectQuery("FROM race_ingestions").
		WithArgs("12", "20240115", 3).
		WillReturnRows(pgxmock.NewRows([]string{
			"status", "complete", "lane_count", "skipped_rows", "warning_count", "content_hash", "ingested_at",
		}).AddRow("ok-partial", false, 5, 1, 0, "abc", at))

	in, found, err := st.LookupIngestion(context.Background(), testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, race.StatusOKPartial, in.Status)
	assert.Equal(t, 5, in.LaneCount)
	assert.Equal(t, time.UTC, in.IngestedAt.Location())
	assert.True(t, at.Equal(in.IngestedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupIngestionMissing(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM race_ingestions").WillReturnError(pgx.ErrNoRows)

	_, found, err := st.LookupIngestion(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTableCounts(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	for _, table := range []string{"entries", "motors", "exhibitions", "weather", "results", "race_ingestions"} {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM " + table).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(6)))
	}

	counts, err := st.TableCounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, 6)
	assert.Equal(t, int64(6), counts["race_ingestions"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	for range 6 {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_entries_motor").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
