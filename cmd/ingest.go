package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/clock/system"
	"github.com/JakeFAU/boatrace-ingest/internal/ingest"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

const (
	reportText = "text"
	reportJSON = "json"
)

type ingestOptions struct {
	start     string
	end       string
	date      string
	today     bool
	venues    []string
	allVenues bool
	races     int
	report    string
}

// newIngestCmd creates the 'ingest' subcommand.
func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetches and stores every race in a date range",
		Long: `Fetches, parses and stores every race for each date in [--start, --end]
and each selected venue. Per-race failures are reported in the run summary
and do not change the exit status.`,
		Example: `  boatrace ingest --start 20240101 --end 20240107 --venue 12 --venue 02
  boatrace ingest --today --all-venues --report json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.start, "start", "", "first race day, YYYYMMDD")
	f.StringVar(&opts.end, "end", "", "last race day, YYYYMMDD (defaults to --start)")
	f.StringVar(&opts.date, "date", "", "single race day, YYYYMMDD")
	f.BoolVar(&opts.today, "today", false, "ingest today's races (Japan time)")
	f.StringSliceVar(&opts.venues, "venue", nil, "venue code 01-24 (repeatable)")
	f.BoolVar(&opts.allVenues, "all-venues", false, "ingest all 24 venues")
	f.IntVar(&opts.races, "races", 0, "races per day (defaults to ingest.races_per_day)")
	f.StringVar(&opts.report, "report", reportText, "summary format: text or json")
	cmd.MarkFlagsMutuallyExclusive("venue", "all-venues")
	cmd.MarkFlagsMutuallyExclusive("today", "start")
	cmd.MarkFlagsMutuallyExclusive("today", "date")
	cmd.MarkFlagsMutuallyExclusive("date", "start")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *ingestOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	req, err := opts.request(system.New().Today(jst()))
	if err != nil {
		return err
	}

	report, err := appInstance.GetOrchestrator().Run(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("run ingest: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.report == reportJSON {
		err = writeJSON(out, report)
	} else {
		writeReportText(out, report)
	}
	if err != nil {
		return err
	}
	if report.Cancelled {
		appInstance.GetLogger().Warn("Ingestion interrupted", zap.Int("pending", report.Pending))
		return fmt.Errorf("ingest interrupted: %d races not started", report.Pending)
	}
	return nil
}

// request validates the flag combination and builds the run request.
// today is the YYYYMMDD stamp used by --today.
func (o *ingestOptions) request(today string) (ingest.Request, error) {
	if o.report != reportText && o.report != reportJSON {
		return ingest.Request{}, fmt.Errorf("--report must be %q or %q", reportText, reportJSON)
	}
	if o.races < 0 {
		return ingest.Request{}, errors.New("--races must be >= 0")
	}
	req := ingest.Request{RacesPerDay: o.races}
	switch {
	case o.today:
		req.Start, req.End = today, today
	case o.date != "":
		req.Start, req.End = o.date, o.date
	case o.start != "":
		req.Start, req.End = o.start, o.end
		if req.End == "" {
			req.End = o.start
		}
	default:
		return ingest.Request{}, errors.New("one of --start, --date or --today is required")
	}
	switch {
	case o.allVenues:
		req.Venues = race.AllVenues()
	case len(o.venues) > 0:
		req.Venues = o.venues
	default:
		return ingest.Request{}, errors.New("one of --venue or --all-venues is required")
	}
	// Surface range and venue errors before any service work starts.
	if _, err := req.Keys(0); err != nil {
		return ingest.Request{}, err
	}
	return req, nil
}

func writeReportText(w io.Writer, report ingest.RunReport) {
	t := newTable(w)
	t.SetTitle("Run %s", report.RunID)
	t.AppendHeader(table.Row{"Date", "Venue", "Race", "Status", "Lanes", "Warnings", "Results", "Error"})
	for _, o := range report.Outcomes {
		t.AppendRow(table.Row{o.Date, o.Venue, o.RaceNo, o.Status, o.Lanes, o.Warnings, o.Results, o.Error})
	}
	t.Render()

	summary := newTable(w)
	summary.AppendHeader(table.Row{"Status", "Races"})
	counts := report.Counts()
	for _, status := range []race.Status{
		race.StatusOK,
		race.StatusOKPartial,
		race.StatusFailedFetch,
		race.StatusFailedParse,
		race.StatusFailedStore,
	} {
		summary.AppendRow(table.Row{status, counts[status]})
	}
	if report.Pending > 0 {
		summary.AppendRow(table.Row{"not started", report.Pending})
	}
	summary.AppendFooter(table.Row{"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)})
	summary.Render()
}

// jst is the race-day timezone. Hosts without tzdata fall back to a fixed
// +09:00 offset; Japan has no daylight saving.
func jst() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}
