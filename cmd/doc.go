// Package cmd implements the explorer command line.
//
// Architecture overview:
//   - Targets: a subreddit name, r/ or u/ path, or full URL is normalized into a
//     target before anything is fetched. Unusable input fails fast.
//   - Planning: the planner turns a target plus coverage (live or historical)
//     into an ordered list of queries. Historical coverage appends the top,
//     new and controversial sweeps after the live listing.
//   - Scheduling: one session walks its queries strictly in order, one page at
//     a time. Continuation requests are paced; the first page of a query is not.
//     Records are deduplicated across the whole session and every novel batch
//     is pushed to the result sink as a fresh snapshot.
//   - Sessions: each client owns at most one running session. Starting another
//     abandons the first, and an abandoned session never reaches its sink again.
//   - Persistence & fanout: finished record sets are saved to the record store
//     (memory, postgres, sqlite, mongo), exported to blob storage (memory,
//     local, GCS) and announced on the completion bus (Pub/Sub, NATS, Kafka).
//   - Observability: zap logs carry session ids; Prometheus metrics are served
//     on /metrics; progress events are batched by the hub into the log,
//     Prometheus and status-store sinks.
//
// Commands:
//   - explorer crawl <target> runs one crawl in process and prints the records.
//   - explorer serve starts the HTTP API.
//
// Configuration comes from an optional YAML file (--config), a .env file and
// EXPLORER_* environment variables, in increasing precedence.
package cmd
