// Package store loads workflow definitions from a directory tree laid out as
// <root>/<category>/<id>.json.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"devguard/internal/workflow"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/sentinel"
)

const definitionExt = ".json"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// FileStore reads definitions from disk on every call so edits are picked up
// without a restart. It holds no mutable state.
type FileStore struct {
	root        string
	logger      *slog.Logger
	stepTimeout time.Duration
}

// Option configures the FileStore.
type Option func(*FileStore)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithStepTimeout sets the timeout given to steps that declare none.
func WithStepTimeout(d time.Duration) Option {
	return func(s *FileStore) {
		if d > 0 {
			s.stepTimeout = d
		}
	}
}

// New creates a store rooted at dir.
func New(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("definitions directory is required")
	}
	s := &FileStore{
		root:        dir,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		stepTimeout: workflow.DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load reads, validates and sanitizes one definition. A missing file yields
// CodeNotFound; an invalid file yields CodeValidation carrying
// workflow.ValidationErrors.
func (s *FileStore) Load(ctx context.Context, category workflow.Category, id string) (workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Definition{}, err
	}
	if !category.IsValid() {
		return workflow.Definition{}, dErrors.Newf(dErrors.CodeNotFound, "unknown workflow category %q", category)
	}
	if !idPattern.MatchString(id) {
		return workflow.Definition{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid workflow id %q", id)
	}

	path := filepath.Join(s.root, string(category), id+definitionExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return workflow.Definition{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound,
				fmt.Sprintf("workflow %s/%s", category, id))
		}
		return workflow.Definition{}, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("read workflow %s/%s", category, id))
	}

	def, err := workflow.Parse(data)
	if err != nil {
		return workflow.Definition{}, err
	}
	if def.Category != category {
		errs := workflow.ValidationErrors{{
			Field:   "category",
			Message: fmt.Sprintf("definition declares %q but is stored under %q", def.Category, category),
		}}
		return workflow.Definition{}, dErrors.Wrap(errs, dErrors.CodeValidation, fmt.Sprintf("workflow %s is invalid", def.ID))
	}
	if def.ID != id {
		errs := workflow.ValidationErrors{{
			Field:   "id",
			Message: fmt.Sprintf("definition declares %q but file is named %q", def.ID, id),
		}}
		return workflow.Definition{}, dErrors.Wrap(errs, dErrors.CodeValidation, fmt.Sprintf("workflow %s is invalid", id))
	}
	return workflow.Sanitize(def, s.stepTimeout), nil
}

// List returns summaries of the valid definitions in a category, sorted by id.
// Invalid files are skipped and logged.
func (s *FileStore) List(ctx context.Context, category workflow.Category) ([]workflow.Summary, error) {
	if !category.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown workflow category %q", category)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, string(category)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []workflow.Summary{}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("list workflows in %s", category))
	}

	out := make([]workflow.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), definitionExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), definitionExt)
		def, err := s.Load(ctx, category, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WarnContext(ctx, "skipping invalid workflow definition",
				"category", category,
				"id", id,
				"error", err,
			)
			continue
		}
		out = append(out, def.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
