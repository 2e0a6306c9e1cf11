package enrich

// EnrichSubject is the NATS subject the Router publishes enrichment jobs
// to and the enrichment worker pool subscribes on.
const EnrichSubject = "graphrag.enrich"

// DLQSubject is a subject name reserved for dead-lettered jobs. Nothing
// publishes to it: a job that exhausts its retry budget is recorded only in
// the Postgres dead-letter queue (C8) for operator review.
const DLQSubject = "graphrag.enrich.dlq"

// Job is the message carried on EnrichSubject: just enough to look the
// Task row back up, not a copy of its payload — the worker reads the
// payload fresh from Postgres so retries always see the latest state.
type Job struct {
	TaskID  string `json:"taskId"`
	Retries int    `json:"retries"`
}
