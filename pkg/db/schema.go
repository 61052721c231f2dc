package db

import "time"

// Schema defines the SQLite database schema for catalog images.
// Images are keyed by the catalog's external id, labels by their lower-cased
// name, and image_labels joins the two. ingest_runs tracks ingestion runs.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL UNIQUE,
    width INTEGER NOT NULL CHECK(width >= 1),
    height INTEGER NOT NULL CHECK(height >= 1),
    image_url TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL CHECK(length(name) BETWEEN 1 AND 80),
    name_key TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS image_labels (
    image_id INTEGER NOT NULL REFERENCES images(id),
    label_id INTEGER NOT NULL REFERENCES labels(id),
    PRIMARY KEY (image_id, label_id)
);

CREATE INDEX IF NOT EXISTS idx_image_labels_label_id ON image_labels(label_id);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'succeeded', 'failed')),
    records_added INTEGER NOT NULL DEFAULT 0,
    labels_added INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    violations INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

// Run status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Image is a persisted catalog image with its label names.
type Image struct {
	ID         int64
	ExternalID string
	Width      int
	Height     int
	ImageURL   string
	CreatedAt  time.Time
	Labels     []string
}

// Label is a persisted label. NameKey is the lower-cased trimmed name.
type Label struct {
	ID        int64
	Name      string
	NameKey   string
	CreatedAt time.Time
}

// Run is one ingestion run.
type Run struct {
	ID           string
	Source       string
	Status       string
	RecordsAdded int
	LabelsAdded  int
	Skipped      int
	Violations   int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Batch is everything one run commits. Records refer to labels by id: a
// positive id is a persisted label, a negative id -n is Labels[n-1].
type Batch struct {
	Records []BatchRecord `json:"records"`
	Labels  []BatchLabel  `json:"labels"`
}

// BatchRecord is an image staged for insertion.
type BatchRecord struct {
	ExternalID string    `json:"external_id"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ImageURL   string    `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
	LabelIDs   []int64   `json:"label_ids"`
}

// BatchLabel is a label staged for insertion.
type BatchLabel struct {
	Name      string    `json:"name"`
	NameKey   string    `json:"name_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Empty reports whether the batch has nothing to write.
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Records) == 0 && len(b.Labels) == 0)
}

// CommitResult counts rows actually inserted by CommitBatch. Rows absorbed by
// a uniqueness conflict are not counted.
type CommitResult struct {
	RecordsAdded int
	LabelsAdded  int
}
