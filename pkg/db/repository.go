package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/catvault/catvault/pkg/errors"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Repository provides database operations for images, labels and runs
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at dbPath and applies the schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.E(errors.KindPersistence, "open database", err)
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.E(errors.KindPersistence, "create schema", err)
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// ExternalIDs returns the set of all persisted external ids
func (r *Repository) ExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT external_id FROM images`)
	if err != nil {
		slog.Error("database_external_ids_failed", "error", err)
		return nil, errors.E(errors.KindPersistence, "load external ids", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.E(errors.KindPersistence, "scan external id", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(errors.KindPersistence, "load external ids", err)
	}

	slog.Info("database_external_ids_loaded", "count", len(ids))
	return ids, nil
}

// Labels returns every persisted label ordered by id
func (r *Repository) Labels(ctx context.Context) ([]Label, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, name_key, created_at FROM labels ORDER BY id`)
	if err != nil {
		slog.Error("database_labels_failed", "error", err)
		return nil, errors.E(errors.KindPersistence, "load labels", err)
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		var created string
		if err := rows.Scan(&l.ID, &l.Name, &l.NameKey, &created); err != nil {
			return nil, errors.E(errors.KindPersistence, "scan label", err)
		}
		l.CreatedAt = parseTime(created)
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(errors.KindPersistence, "load labels", err)
	}

	slog.Info("database_labels_loaded", "count", len(labels))
	return labels, nil
}

// CommitBatch writes images, the staged labels they link and the
// associations in one transaction. Rows that collide with an existing
// external id or label key are absorbed; any other failure rolls the whole
// batch back.
func (r *Repository) CommitBatch(ctx context.Context, batch *Batch) (*CommitResult, error) {
	result := &CommitResult{}
	if batch.Empty() {
		return result, nil
	}

	slog.Info("database_commit_batch", "records", len(batch.Records), "labels", len(batch.Labels))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return nil, errors.E(errors.KindPersistence, "begin transaction", err)
	}
	defer tx.Rollback()

	// Provisional label ids resolve on first link, so a label staged only
	// for an absorbed image is never written.
	staged := make([]int64, len(batch.Labels))
	resolve := func(provisional int64) (int64, error) {
		idx := int(-provisional) - 1
		if idx >= len(staged) {
			return 0, fmt.Errorf("provisional label %d out of range", provisional)
		}
		if staged[idx] != 0 {
			return staged[idx], nil
		}
		l := batch.Labels[idx]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO labels (name, name_key, created_at) VALUES (?, ?, ?) ON CONFLICT(name_key) DO NOTHING`,
			l.Name, l.NameKey, formatTime(l.CreatedAt))
		if err != nil {
			slog.Error("database_insert_label_failed", "label", l.Name, "error", err)
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.LabelsAdded++
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM labels WHERE name_key = ?`, l.NameKey).Scan(&staged[idx]); err != nil {
			slog.Error("database_label_lookup_failed", "label", l.Name, "error", err)
			return 0, err
		}
		return staged[idx], nil
	}

	for _, rec := range batch.Records {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO images (external_id, width, height, image_url, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(external_id) DO NOTHING`,
			rec.ExternalID, rec.Width, rec.Height, rec.ImageURL, formatTime(rec.CreatedAt))
		if err != nil {
			slog.Error("database_insert_image_failed", "external_id", rec.ExternalID, "error", err)
			return nil, errors.E(errors.KindPersistence, "insert image", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errors.E(errors.KindPersistence, "rows affected", err)
		}
		if n == 0 {
			slog.Warn("database_image_conflict_absorbed", "external_id", rec.ExternalID)
			continue
		}
		imageID, err := res.LastInsertId()
		if err != nil {
			return nil, errors.E(errors.KindPersistence, "last insert id", err)
		}
		result.RecordsAdded++

		for _, labelID := range rec.LabelIDs {
			if labelID < 0 {
				if labelID, err = resolve(labelID); err != nil {
					return nil, errors.E(errors.KindPersistence, "insert label", err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO image_labels (image_id, label_id) VALUES (?, ?)`, imageID, labelID); err != nil {
				slog.Error("database_link_label_failed", "external_id", rec.ExternalID, "label_id", labelID, "error", err)
				return nil, errors.E(errors.KindPersistence, "link label", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return nil, errors.E(errors.KindPersistence, "commit transaction", err)
	}

	slog.Info("database_batch_committed", "records_added", result.RecordsAdded, "labels_added", result.LabelsAdded)
	return result, nil
}

// QueryImages counts the images carrying a label with the given key (all
// images when labelKey is empty) and returns the slice [offset, offset+limit)
// ordered by id. Count and slice come from the same read transaction.
func (r *Repository) QueryImages(ctx context.Context, labelKey string, offset, limit int) (int, []*Image, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, errors.E(errors.KindPersistence, "begin read transaction", err)
	}
	defer tx.Rollback()

	where := ""
	var args []any
	if labelKey != "" {
		where = `WHERE EXISTS (
			SELECT 1 FROM image_labels il JOIN labels l ON l.id = il.label_id
			WHERE il.image_id = i.id AND l.name_key = ?)`
		args = append(args, labelKey)
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM images i `+where, args...).Scan(&total); err != nil {
		slog.Error("database_count_images_failed", "label_key", labelKey, "error", err)
		return 0, nil, errors.E(errors.KindPersistence, "count images", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT i.id, i.external_id, i.width, i.height, i.image_url, i.created_at FROM images i `+where+
			` ORDER BY i.id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		slog.Error("database_list_images_failed", "label_key", labelKey, "error", err)
		return 0, nil, errors.E(errors.KindPersistence, "list images", err)
	}
	images, err := scanImages(rows)
	if err != nil {
		return 0, nil, err
	}

	if err := attachLabels(ctx, tx, images); err != nil {
		return 0, nil, err
	}

	return total, images, nil
}

// GetImage retrieves an image by internal id. It returns nil, nil when the
// image does not exist.
func (r *Repository) GetImage(ctx context.Context, id int64) (*Image, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.E(errors.KindPersistence, "begin read transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, external_id, width, height, image_url, created_at FROM images WHERE id = ?`, id)
	if err != nil {
		slog.Error("database_query_failed", "image_id", id, "error", err)
		return nil, errors.E(errors.KindPersistence, "query image", err)
	}
	images, err := scanImages(rows)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		slog.Info("database_image_not_found", "image_id", id)
		return nil, nil
	}
	if err := attachLabels(ctx, tx, images); err != nil {
		return nil, err
	}
	return images[0], nil
}

func scanImages(rows *sql.Rows) ([]*Image, error) {
	defer rows.Close()

	images := []*Image{}
	for rows.Next() {
		var img Image
		var created string
		if err := rows.Scan(&img.ID, &img.ExternalID, &img.Width, &img.Height, &img.ImageURL, &created); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.E(errors.KindPersistence, "scan image", err)
		}
		img.CreatedAt = parseTime(created)
		img.Labels = []string{}
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(errors.KindPersistence, "rows error", err)
	}
	return images, nil
}

func attachLabels(ctx context.Context, tx *sql.Tx, images []*Image) error {
	if len(images) == 0 {
		return nil
	}

	byID := make(map[int64]*Image, len(images))
	placeholders := make([]string, len(images))
	args := make([]any, len(images))
	for i, img := range images {
		byID[img.ID] = img
		placeholders[i] = "?"
		args[i] = img.ID
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT il.image_id, l.name FROM image_labels il JOIN labels l ON l.id = il.label_id
		 WHERE il.image_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY il.image_id, l.id`, args...)
	if err != nil {
		slog.Error("database_image_labels_failed", "error", err)
		return errors.E(errors.KindPersistence, "load image labels", err)
	}
	defer rows.Close()

	for rows.Next() {
		var imageID int64
		var name string
		if err := rows.Scan(&imageID, &name); err != nil {
			return errors.E(errors.KindPersistence, "scan image label", err)
		}
		if img := byID[imageID]; img != nil {
			img.Labels = append(img.Labels, name)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.E(errors.KindPersistence, "load image labels", err)
	}
	return nil
}

// CreateRun inserts a pending run record
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	slog.Info("database_create_run", "run_id", run.ID, "source", run.Source)

	if run.Status == "" {
		run.Status = StatusPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.Status, formatTime(run.StartedAt))
	if err != nil {
		slog.Error("database_insert_run_failed", "run_id", run.ID, "error", err)
		return errors.E(errors.KindPersistence, "insert run", err)
	}
	return nil
}

// UpdateRunStatus updates only the status and error message of a run
func (r *Repository) UpdateRunStatus(ctx context.Context, id, status, errorMessage string) error {
	slog.Info("database_update_run_status", "run_id", id, "status", status)

	res, err := r.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, error_message = ? WHERE id = ?`, status, errorMessage, id)
	if err != nil {
		slog.Error("database_run_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.E(errors.KindPersistence, "update run status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("update run status", "run not found: id=%s", id)
	}
	return nil
}

// FinishRun records the outcome of a run
func (r *Repository) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	slog.Info("database_finish_run", "run_id", run.ID, "status", run.Status)
	res, err := r.db.ExecContext(ctx,
		`UPDATE ingest_runs
		 SET status = ?, records_added = ?, labels_added = ?, skipped = ?, violations = ?, error_message = ?, finished_at = ?
		 WHERE id = ?`,
		run.Status, run.RecordsAdded, run.LabelsAdded, run.Skipped, run.Violations, run.ErrorMessage,
		formatTime(now), run.ID)
	if err != nil {
		slog.Error("database_finish_run_failed", "run_id", run.ID, "error", err)
		return errors.E(errors.KindPersistence, "finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("finish run", "run not found: id=%s", run.ID)
	}
	return nil
}

const runColumns = `id, source, status, records_added, labels_added, skipped, violations, error_message, started_at, finished_at`

// GetRun retrieves a run by id. It returns nil, nil when the run does not exist.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = ?`, id)
	if err != nil {
		return nil, errors.E(errors.KindPersistence, "query run", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		slog.Error("database_list_runs_failed", "error", err)
		return nil, errors.E(errors.KindPersistence, "list runs", err)
	}
	return scanRuns(rows)
}

// FailStaleRuns marks every unfinished run as failed. Called at startup, when
// no run from a previous process can still be in flight.
func (r *Repository) FailStaleRuns(ctx context.Context, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, error_message = ?, finished_at = ?
		 WHERE status IN (?, ?)`,
		StatusFailed, reason, formatTime(time.Now()), StatusPending, StatusRunning)
	if err != nil {
		slog.Error("database_fail_stale_runs_failed", "error", err)
		return 0, errors.E(errors.KindPersistence, "fail stale runs", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Warn("database_stale_runs_failed", "count", n)
	}
	return int(n), nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var errorMessage, finished sql.NullString
		var started string
		if err := rows.Scan(&run.ID, &run.Source, &run.Status, &run.RecordsAdded, &run.LabelsAdded,
			&run.Skipped, &run.Violations, &errorMessage, &started, &finished); err != nil {
			return nil, errors.E(errors.KindPersistence, "scan run", err)
		}
		run.ErrorMessage = errorMessage.String
		run.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(errors.KindPersistence, "rows error", err)
	}
	return runs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		slog.Warn("database_bad_timestamp", "value", s, "error", err)
		return time.Time{}
	}
	return t
}
