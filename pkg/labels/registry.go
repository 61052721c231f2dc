// Package labels resolves free-text label names to label identities,
// treating names that differ only in case or surrounding space as one label.
package labels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
)

// MaxNameLength bounds a label name in characters.
const MaxNameLength = 80

// Loader supplies the persisted labels a registry is seeded from.
type Loader interface {
	Labels(ctx context.Context) ([]db.Label, error)
}

// Ref identifies a label. ID is positive for persisted labels and negative
// for labels staged during the current run (see db.Batch).
type Ref struct {
	ID   int64
	Name string
}

// Staged reports whether the label is not yet persisted.
func (r Ref) Staged() bool { return r.ID < 0 }

// Registry is a per-run, case-insensitive label index. It is not safe for
// concurrent use; each run owns its own registry.
type Registry struct {
	loader Loader
	now    func() time.Time

	seeded bool
	byKey  map[string]Ref
	staged []db.BatchLabel
}

// NewRegistry creates a registry that seeds itself from loader on first use.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader: loader,
		now:    func() time.Time { return time.Now().UTC() },
		byKey:  make(map[string]Ref),
	}
}

// Key returns the normalized form two equivalent names share.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CheckName reports why name cannot be a label, or nil if it can.
func CheckName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("label name is empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxNameLength {
		return fmt.Errorf("label %q is %d characters, max %d", trimmed, n, MaxNameLength)
	}
	return nil
}

func (r *Registry) seed(ctx context.Context) error {
	if r.seeded {
		return nil
	}
	existing, err := r.loader.Labels(ctx)
	if err != nil {
		return errors.Wrap(err, "seed label registry")
	}
	for _, l := range existing {
		key := l.NameKey
		if key == "" {
			key = Key(l.Name)
		}
		if _, ok := r.byKey[key]; !ok {
			r.byKey[key] = Ref{ID: l.ID, Name: l.Name}
		}
	}
	r.seeded = true
	slog.Info("label_registry_seeded", "labels", len(r.byKey))
	return nil
}

// Resolve returns the identity of name, staging a new label when no
// equivalent name is known. The first-seen casing is kept as the name.
func (r *Registry) Resolve(ctx context.Context, name string) (Ref, error) {
	if err := CheckName(name); err != nil {
		return Ref{}, errors.InvalidArgument("resolve label", "%v", err)
	}
	if err := r.seed(ctx); err != nil {
		return Ref{}, err
	}

	key := Key(name)
	if ref, ok := r.byKey[key]; ok {
		return ref, nil
	}

	trimmed := strings.TrimSpace(name)
	r.staged = append(r.staged, db.BatchLabel{Name: trimmed, NameKey: key, CreatedAt: r.now()})
	ref := Ref{ID: -int64(len(r.staged)), Name: trimmed}
	r.byKey[key] = ref

	slog.Info("label_staged", "label", trimmed, "provisional_id", ref.ID)
	return ref, nil
}

// Staged returns the labels staged so far, in staging order. The i-th label
// has provisional id -(i+1).
func (r *Registry) Staged() []db.BatchLabel {
	out := make([]db.BatchLabel, len(r.staged))
	copy(out, r.staged)
	return out
}
