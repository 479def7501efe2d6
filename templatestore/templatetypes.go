// Package templatestore persists shared step templates. Templates carry a
// task type and a parameter schema; chains reference them by id and cache
// read-only snapshots.
package templatestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
)

// MAXLIMIT bounds a single list page.
const MAXLIMIT = 1000

var (
	ErrNotFound           = errors.New("template not found")
	ErrLimitParamExceeded = errors.New("limit parameter exceeds maximum")
)

// Store is the persistence contract for shared templates. GetTemplate
// satisfies chainengine.TemplateFetcher so the store can hydrate chains
// directly.
type Store interface {
	CreateTemplate(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error
	GetTemplate(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error)
	UpdateTemplate(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error
	DeleteTemplate(ctx context.Context, id string) error
	ListTemplates(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*chainengine.TemplateSnapshot, error)
	EstimateTemplateCount(ctx context.Context) (int64, error)
	EnforceMaxRowCount(ctx context.Context, count int64) error
}

func checkRowsAffected(result sql.Result) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
