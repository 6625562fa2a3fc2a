package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// ErrInvalidRequest marks requests rejected before any race runs.
var ErrInvalidRequest = errors.New("invalid ingest request")

// Request selects the races of a run: every date in [Start, End] × every
// venue × races 1..RacesPerDay.
type Request struct {
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Venues []string `json:"venues"`
	// RacesPerDay overrides the configured race count when > 0.
	RacesPerDay int `json:"races_per_day,omitempty"`
}

// Keys expands the request into race keys ordered by date, venue and race.
// Duplicate venues are collapsed.
func (r Request) Keys(racesPerDay int) ([]race.Key, error) {
	if r.RacesPerDay > 0 {
		racesPerDay = r.RacesPerDay
	}
	if racesPerDay <= 0 {
		racesPerDay = race.DefaultRaces
	}
	start, err := race.ParseDate(r.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %w", ErrInvalidRequest, err)
	}
	end, err := race.ParseDate(r.End)
	if err != nil {
		return nil, fmt.Errorf("%w: end: %w", ErrInvalidRequest, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRequest, r.End, r.Start)
	}
	if len(r.Venues) == 0 {
		return nil, fmt.Errorf("%w: no venues selected", ErrInvalidRequest)
	}

	venues := make([]string, 0, len(r.Venues))
	seen := make(map[string]bool, len(r.Venues))
	for _, v := range r.Venues {
		if !race.ValidVenue(v) {
			return nil, fmt.Errorf("%w: invalid venue code %q", ErrInvalidRequest, v)
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		venues = append(venues, v)
	}

	var keys []race.Key
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(race.DateLayout)
		for _, venue := range venues {
			for no := 1; no <= racesPerDay; no++ {
				keys = append(keys, race.Key{Venue: venue, Date: date, RaceNo: no})
			}
		}
	}
	return keys, nil
}

// Days returns the number of calendar days covered, or 0 when invalid.
func (r Request) Days() int {
	start, err := race.ParseDate(r.Start)
	if err != nil {
		return 0
	}
	end, err := race.ParseDate(r.End)
	if err != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start)/(24*time.Hour)) + 1
}
