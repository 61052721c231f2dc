// Package query serves the paginated, label-filterable read view over stored
// images. It never writes.
package query

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/labels"
)

const (
	// MaxLabelFilterLength bounds the trimmed label filter in characters.
	MaxLabelFilterLength = 50

	// MaxPageSize bounds how many records one page may hold.
	MaxPageSize = 100

	// DefaultPage and DefaultPageSize apply when the caller omits them.
	DefaultPage     = 1
	DefaultPageSize = 10
)

// Reader is the read side of the store.
type Reader interface {
	QueryImages(ctx context.Context, labelKey string, offset, limit int) (int, []*db.Image, error)
	GetImage(ctx context.Context, id int64) (*db.Image, error)
}

// Params selects a page. An empty Label means no filter.
type Params struct {
	Label    string
	Page     int
	PageSize int
}

// RecordView is the external shape of a stored image.
type RecordView struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ImageURL   string    `json:"imageUrl"`
	CreatedAt  time.Time `json:"createdAt"`
	Labels     []string  `json:"labels"`
}

// Page is one slice of the filtered, id-ordered record set. Total counts
// the whole filtered set.
type Page struct {
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
	Items    []RecordView `json:"data"`
}

// Engine answers record queries.
type Engine struct {
	reader Reader
}

// NewEngine creates a query engine over reader.
func NewEngine(reader Reader) *Engine {
	return &Engine{reader: reader}
}

// Validate checks p and returns the normalized label key to filter on.
func (p Params) Validate() (string, error) {
	if p.Page < 1 {
		return "", errors.InvalidArgument("query records", "page must be at least 1, got %d", p.Page)
	}
	if p.PageSize < 1 {
		return "", errors.InvalidArgument("query records", "pageSize must be at least 1, got %d", p.PageSize)
	}
	if p.PageSize > MaxPageSize {
		return "", errors.InvalidArgument("query records", "pageSize must be at most %d, got %d", MaxPageSize, p.PageSize)
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return "", errors.InvalidArgument("query records", "page %d is out of range", p.Page)
	}
	label := strings.TrimSpace(p.Label)
	if n := utf8.RuneCountInString(label); n > MaxLabelFilterLength {
		return "", errors.InvalidArgument("query records", "tag parameter too long (max %d chars)", MaxLabelFilterLength)
	}
	return labels.Key(label), nil
}

// Query returns the requested page.
func (e *Engine) Query(ctx context.Context, p Params) (*Page, error) {
	key, err := p.Validate()
	if err != nil {
		return nil, err
	}

	offset := (p.Page - 1) * p.PageSize
	total, images, err := e.reader.QueryImages(ctx, key, offset, p.PageSize)
	if err != nil {
		slog.Error("query_records_failed", "label", key, "page", p.Page, "error", err)
		return nil, errors.Wrap(err, "query records")
	}

	page := &Page{
		Total:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		Items:    make([]RecordView, 0, len(images)),
	}
	for _, img := range images {
		page.Items = append(page.Items, View(img))
	}
	return page, nil
}

// Get returns the record with internal id, or a NotFound error.
func (e *Engine) Get(ctx context.Context, id int64) (*RecordView, error) {
	if id < 1 {
		return nil, errors.InvalidArgument("get record", "id must be at least 1, got %d", id)
	}
	img, err := e.reader.GetImage(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get record")
	}
	if img == nil {
		return nil, errors.NotFound("get record", "image with id %d not found", id)
	}
	view := View(img)
	return &view, nil
}

// View converts a stored image.
func View(img *db.Image) RecordView {
	names := img.Labels
	if names == nil {
		names = []string{}
	}
	return RecordView{
		ID:         img.ID,
		ExternalID: img.ExternalID,
		Width:      img.Width,
		Height:     img.Height,
		ImageURL:   img.ImageURL,
		CreatedAt:  img.CreatedAt,
		Labels:     names,
	}
}
