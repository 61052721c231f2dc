// Package ingest imports catalog items into the store: fetch, validate,
// deduplicate, resolve labels and commit one atomic batch per run.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/catvault/catvault/pkg/catalog"
	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/labels"
	"github.com/catvault/catvault/pkg/validation"
)

// Fetcher retrieves raw catalog items.
type Fetcher interface {
	Fetch(ctx context.Context, limit int, filter catalog.Filter) ([]catalog.RawItem, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	labels.Loader
	ExternalIDs(ctx context.Context) (map[string]struct{}, error)
	CommitBatch(ctx context.Context, batch *db.Batch) (*db.CommitResult, error)
}

// Staged is the outcome of processing one fetched batch, ready to commit.
type Staged struct {
	Fetched    int                         `json:"fetched"`
	Skipped    int                         `json:"skipped"`
	Violations []validation.FieldViolation `json:"violations"`
	Batch      db.Batch                    `json:"batch"`
}

// Result summarizes a run.
type Result struct {
	Fetched      int                         `json:"fetched"`
	RecordsAdded int                         `json:"records_added"`
	LabelsAdded  int                         `json:"labels_added"`
	Skipped      int                         `json:"skipped"`
	Violations   []validation.FieldViolation `json:"violations"`
}

// Pipeline runs ingestion. Each call to Stage builds its own label registry,
// so a Pipeline may serve consecutive or overlapping runs.
type Pipeline struct {
	fetcher   Fetcher
	store     Store
	validator *validation.Validator
	limit     int
	filter    catalog.Filter
	now       func() time.Time
}

// NewPipeline creates a pipeline fetching up to limit items per run.
func NewPipeline(fetcher Fetcher, store Store, limit int) *Pipeline {
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	return &Pipeline{
		fetcher:   fetcher,
		store:     store,
		validator: validation.NewValidator(),
		limit:     limit,
		filter:    catalog.DefaultFilter(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithFilter overrides the catalog filter.
func (p *Pipeline) WithFilter(f catalog.Filter) *Pipeline {
	p.filter = f
	return p
}

// Run executes fetch, stage and commit.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	items, err := p.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	staged, err := p.Stage(ctx, items)
	if err != nil {
		return nil, err
	}
	return p.Commit(ctx, staged)
}

// Fetch pulls one bounded batch of raw items. No store transaction is open
// while it runs.
func (p *Pipeline) Fetch(ctx context.Context) ([]catalog.RawItem, error) {
	items, err := p.fetcher.Fetch(ctx, p.limit, p.filter)
	if err != nil {
		slog.Error("ingest_fetch_failed", "error", err)
		return nil, errors.Wrap(err, "ingest fetch")
	}
	return items, nil
}

// Stage deduplicates and validates items and resolves labels for accepted
// records. Rejected records contribute violations and nothing else.
func (p *Pipeline) Stage(ctx context.Context, items []catalog.RawItem) (*Staged, error) {
	staged := &Staged{Fetched: len(items), Violations: []validation.FieldViolation{}}
	if len(items) == 0 {
		slog.Info("ingest_no_items")
		return staged, nil
	}

	seen, err := p.store.ExternalIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "ingest load existing ids")
	}
	registry := labels.NewRegistry(p.store)

	for _, item := range items {
		// seen also holds ids staged earlier in this run.
		if _, dup := seen[item.ExternalID]; dup && item.ExternalID != "" {
			staged.Skipped++
			continue
		}

		candidate := validation.Candidate{
			ExternalID: item.ExternalID,
			Width:      item.Width,
			Height:     item.Height,
			ImageURL:   item.URL,
			Labels:     SplitTemperament(item.Temperament),
		}
		if violations := p.validator.Validate(candidate); len(violations) > 0 {
			staged.Violations = append(staged.Violations, violations...)
			continue
		}

		labelIDs := make([]int64, 0, len(candidate.Labels))
		linked := make(map[int64]bool, len(candidate.Labels))
		for _, name := range candidate.Labels {
			ref, err := registry.Resolve(ctx, name)
			if err != nil {
				return nil, errors.Wrap(err, "ingest resolve label")
			}
			if !linked[ref.ID] {
				linked[ref.ID] = true
				labelIDs = append(labelIDs, ref.ID)
			}
		}

		staged.Batch.Records = append(staged.Batch.Records, db.BatchRecord{
			ExternalID: candidate.ExternalID,
			Width:      candidate.Width,
			Height:     candidate.Height,
			ImageURL:   candidate.ImageURL,
			CreatedAt:  p.now(),
			LabelIDs:   labelIDs,
		})
		seen[candidate.ExternalID] = struct{}{}
	}
	staged.Batch.Labels = registry.Staged()

	slog.Info("ingest_staged",
		"fetched", staged.Fetched,
		"records", len(staged.Batch.Records),
		"labels", len(staged.Batch.Labels),
		"skipped", staged.Skipped,
		"violations", len(staged.Violations))
	return staged, nil
}

// Commit persists the staged batch atomically. An empty batch is a no-op.
func (p *Pipeline) Commit(ctx context.Context, staged *Staged) (*Result, error) {
	result := &Result{
		Fetched:    staged.Fetched,
		Skipped:    staged.Skipped,
		Violations: staged.Violations,
	}
	if staged.Batch.Empty() {
		slog.Info("ingest_nothing_to_commit", "skipped", staged.Skipped, "violations", len(staged.Violations))
		return result, nil
	}

	committed, err := p.store.CommitBatch(ctx, &staged.Batch)
	if err != nil {
		slog.Error("ingest_commit_failed", "records", len(staged.Batch.Records), "error", err)
		return nil, errors.Wrap(err, "ingest commit")
	}
	result.RecordsAdded = committed.RecordsAdded
	result.LabelsAdded = committed.LabelsAdded

	slog.Info("ingest_committed", "records_added", result.RecordsAdded, "labels_added", result.LabelsAdded)
	return result, nil
}

// SplitTemperament turns "Playful, Friendly," into ["Playful", "Friendly"].
func SplitTemperament(temperament *string) []string {
	if temperament == nil {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(*temperament, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
