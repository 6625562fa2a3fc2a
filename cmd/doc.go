// Package cmd defines and implements the CLI commands for the boatrace
// executable.
//
// Architecture overview:
//   - ingest: expands --start/--end (or --date, --today) × venues × races into
//     race keys and hands them to internal/ingest.Orchestrator, which runs a
//     bounded errgroup pool. Each race is fetched through the Colly fetcher
//     (shared rate limiter, jittered retry, optional robots.txt), archived to
//     the configured blob store, parsed with goquery, normalized, derived and
//     written to the store in a single transaction. The run summary is printed
//     as a table or JSON; per-race failures never change the exit status.
//   - features: prints the per-lane feature join for one race.
//   - migrate / status: create the schema and print table row counts.
//   - serve: exposes /healthz, /readyz, /metrics and read-only /v1 race
//     lookups on a chi router.
//
// Configuration & plumbing: Viper populates config from an optional file and
// BOATRACE_* environment variables; zap provides structured logging;
// Prometheus collectors track races, fetches, field warnings, store retries
// and limiter delay. SIGINT/SIGTERM cancel the command context: ingestion
// stops starting new races and lets in-flight ones commit.
//
// Quick checklist:
//   - Store: BOATRACE_STORE_DRIVER=sqlite|postgres, BOATRACE_STORE_DSN.
//   - Archive: BOATRACE_ARCHIVE_PROVIDER=none|local|memory|gcs plus
//     BOATRACE_ARCHIVE_BASE_DIR or BOATRACE_ARCHIVE_BUCKET.
//   - Politeness: BOATRACE_FETCH_MIN_INTERVAL, BOATRACE_INGEST_CONCURRENCY.
//   - Run locally: go run . ingest --today --venue 12
package cmd
