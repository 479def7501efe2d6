package templatestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libdbexec"
)

var _ Store = (*store)(nil)

// store implements Store using libdbexec
type store struct {
	libdbexec.Exec
}

// New creates a new template store instance
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

func (s *store) EnforceMaxRowCount(ctx context.Context, count int64) error {
	if count >= MAXLIMIT {
		return fmt.Errorf("%w (max %d)", libdbexec.ErrMaxRowsReached, MAXLIMIT)
	}
	return nil
}

func (s *store) CreateTemplate(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	schema, err := encodeSchema(tmpl.ParameterSchema)
	if err != nil {
		return err
	}

	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO templates
		(id, name, task_type, description, parameter_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tmpl.ID, tmpl.Name, tmpl.TaskType, tmpl.Description, schema, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	return err
}

func (s *store) GetTemplate(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error) {
	var tmpl chainengine.TemplateSnapshot
	var schema []byte
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, name, task_type, description, parameter_schema, created_at, updated_at
		FROM templates WHERE id = $1`, id,
	).Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.TaskType, &tmpl.Description, &schema, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeSchema(&tmpl, schema); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (s *store) UpdateTemplate(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	tmpl.UpdatedAt = time.Now().UTC()

	schema, err := encodeSchema(tmpl.ParameterSchema)
	if err != nil {
		return err
	}

	result, err := s.Exec.ExecContext(ctx, `
		UPDATE templates SET
		name = $2, task_type = $3, description = $4, parameter_schema = $5, updated_at = $6
		WHERE id = $1`,
		tmpl.ID, tmpl.Name, tmpl.TaskType, tmpl.Description, schema, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *store) DeleteTemplate(ctx context.Context, id string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM templates WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *store) ListTemplates(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*chainengine.TemplateSnapshot, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}

	cursor := time.Now().UTC()
	if createdAtCursor != nil {
		cursor = *createdAtCursor
	}

	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, name, task_type, description, parameter_schema, created_at, updated_at
		FROM templates
		WHERE created_at < $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, cursor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*chainengine.TemplateSnapshot{}
	for rows.Next() {
		var tmpl chainengine.TemplateSnapshot
		var schema []byte
		if err := rows.Scan(
			&tmpl.ID, &tmpl.Name, &tmpl.TaskType, &tmpl.Description, &schema, &tmpl.CreatedAt, &tmpl.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		if err := decodeSchema(&tmpl, schema); err != nil {
			return nil, err
		}
		templates = append(templates, &tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return templates, nil
}

func (s *store) EstimateTemplateCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.Exec.QueryRowContext(ctx, `SELECT estimate_row_count('templates')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate template count: %w", err)
	}
	return count, nil
}

func encodeSchema(schema map[string]chainengine.ParameterDefinition) ([]byte, error) {
	if schema == nil {
		schema = map[string]chainengine.ParameterDefinition{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameter schema: %w", err)
	}
	return raw, nil
}

func decodeSchema(tmpl *chainengine.TemplateSnapshot, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &tmpl.ParameterSchema); err != nil {
		return fmt.Errorf("failed to decode parameter schema: %w", err)
	}
	if len(tmpl.ParameterSchema) == 0 {
		tmpl.ParameterSchema = nil
	}
	return nil
}
