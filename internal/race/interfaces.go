package race

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the raw markup of one race page.
type Fetcher interface {
	Fetch(ctx context.Context, key Key) ([]byte, error)
}

// Store persists race records. Every write method is atomic: a failure
// leaves nothing from the call visible.
type Store interface {
	WriteRace(ctx context.Context, batch Batch) error
	UpsertEntries(ctx context.Context, entries []Entry) error
	UpsertMotors(ctx context.Context, motors []Motor) error
	UpsertExhibitions(ctx context.Context, exhibitions []Exhibition) error
	UpsertWeather(ctx context.Context, weather []Weather) error
	UpsertResults(ctx context.Context, results []Result) error
	QueryFeatureJoin(ctx context.Context, key Key) ([]FeatureRow, error)
	LookupIngestion(ctx context.Context, key Key) (Ingestion, bool, error)
	TableCounts(ctx context.Context) (map[string]int64, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore archives raw pages and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces committed races to downstream consumers and returns
// the message ID.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
