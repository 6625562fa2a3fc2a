package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/app"
	"github.com/JakeFAU/boatrace-ingest/internal/config"
	"github.com/JakeFAU/boatrace-ingest/internal/ingest"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/sqlite"
)

// pageFetcher serves the same fixture for every race of venue 12 and fails
// every other venue.
type pageFetcher struct {
	page []byte
}

func (f pageFetcher) Fetch(_ context.Context, key race.Key) ([]byte, error) {
	if key.Venue != "12" {
		return nil, &race.FetchError{Kind: race.FetchExhausted, URL: key.String(), StatusCode: 503, Attempts: 3}
	}
	return f.page, nil
}

// newTestApp opens the SQLite database at dsn and wires an orchestrator over
// pageFetcher. The returned App is closed by the root command's post-run hook.
func newTestApp(t *testing.T, dsn string) App {
	t.Helper()
	page, err := os.ReadFile(filepath.Join("..", "internal", "ingest", "testdata", "race_full.html"))
	require.NoError(t, err)

	store, err := sqlite.New(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	orch, err := ingest.New(pageFetcher{page: page}, store, ingest.Config{Concurrency: 2, RacesPerDay: 2})
	require.NoError(t, err)

	cfg := config.Config{Store: config.StoreConfig{Driver: config.DriverSQLite, DSN: dsn}}
	return app.NewForTest(cfg, zap.NewNop(), store, orch)
}

func execute(t *testing.T, a App, args ...string) (string, error) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return a, nil }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommandPrintsSummary(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cmd.db")

	out, err := execute(t, newTestApp(t, dsn), "ingest", "--date", "20240115", "--venue", "12", "--venue", "02")
	require.NoError(t, err, "per-race failures must not fail the command")
	assert.Contains(t, out, "failed-fetch")
	assert.Contains(t, out, "exhausted-retries")
	assert.Contains(t, out, string(race.StatusOK))
}

func TestIngestCommandJSONReport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cmd.db")

	out, err := execute(t, newTestApp(t, dsn), "ingest", "--start", "20240115", "--venue", "12", "--report", "json")
	require.NoError(t, err)

	var report ingest.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "20240115", report.Request.End)
	assert.Equal(t, 2, report.Count(race.StatusOK))
}

func TestFeaturesCommandAfterIngest(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cmd.db")
	_, err := execute(t, newTestApp(t, dsn), "ingest", "--date", "20240115", "--venue", "12")
	require.NoError(t, err)

	out, err := execute(t, newTestApp(t, dsn), "features", "--date", "20240115", "--venue", "12", "--race", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Race 20240115/12/R1")
	assert.Contains(t, out, "Exhibition")

	out, err = execute(t, newTestApp(t, dsn), "features", "--date", "20240115", "--venue", "12", "--race", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "no data for race")

	out, err = execute(t, newTestApp(t, dsn), "features", "--date", "20240115", "--venue", "12", "--race", "1", "--json")
	require.NoError(t, err)
	var body struct {
		Lanes []race.FeatureRow `json:"lanes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Len(t, body.Lanes, race.MaxLanes)
}

func TestStatusAndMigrateCommands(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cmd.db")

	out, err := execute(t, newTestApp(t, dsn), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite)")

	out, err = execute(t, newTestApp(t, dsn), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "entries")
	assert.Contains(t, out, "total")
}

func TestCommandFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no dates", []string{"ingest", "--venue", "12"}, "one of --start, --date or --today"},
		{"no venues", []string{"ingest", "--date", "20240115"}, "one of --venue or --all-venues"},
		{"bad venue", []string{"ingest", "--date", "20240115", "--venue", "30"}, "invalid venue code"},
		{"reversed range", []string{"ingest", "--start", "20240116", "--end", "20240115", "--venue", "12"}, "before start"},
		{"bad report", []string{"ingest", "--date", "20240115", "--venue", "12", "--report", "xml"}, "--report"},
		{"exclusive venues", []string{"ingest", "--date", "20240115", "--venue", "12", "--all-venues"}, "all-venues"},
		{"features key", []string{"features", "--date", "20240115"}, "are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := filepath.Join(t.TempDir(), "cmd.db")
			a := newTestApp(t, dsn)
			t.Cleanup(a.Close)
			_, err := execute(t, a, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRootCommandAppInitError(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad dsn") }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"status"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services: bad dsn")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}

func TestIngestOptionsToday(t *testing.T) {
	opts := &ingestOptions{today: true, allVenues: true, report: reportText}
	req, err := opts.request("20240301")
	require.NoError(t, err)
	assert.Equal(t, "20240301", req.Start)
	assert.Equal(t, "20240301", req.End)
	assert.Len(t, req.Venues, 24)
}
