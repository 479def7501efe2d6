package chainstore

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

// New creates a new chain store instance
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

func (s *store) EnforceMaxRowCount(ctx context.Context, count int64) error {
	if count >= MAXLIMIT {
		return fmt.Errorf("%w (max %d)", libdbexec.ErrMaxRowsReached, MAXLIMIT)
	}
	return nil
}

func (s *store) CreateChain(ctx context.Context, chain *StoredChain) error {
	now := time.Now().UTC()
	chain.CreatedAt = now
	chain.UpdatedAt = now

	overrides, constraints, err := encodeChainGlobals(&chain.ChainPayload)
	if err != nil {
		return err
	}

	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO chains
		(id, name, description, is_template, novel_id, global_model_id, global_llm_overrides, global_constraints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		chain.ID, chain.Name, chain.Description, chain.IsTemplate, chain.NovelID,
		chain.GlobalModelID, overrides, constraints, chain.CreatedAt, chain.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return s.replaceStepRows(ctx, chain)
}

func (s *store) GetChain(ctx context.Context, id string) (*StoredChain, error) {
	var chain StoredChain
	var overrides []byte
	var constraints []byte
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, name, description, is_template, novel_id, global_model_id, global_llm_overrides, global_constraints, created_at, updated_at
		FROM chains WHERE id = $1`, id,
	).Scan(
		&chain.ID, &chain.Name, &chain.Description, &chain.IsTemplate, &chain.NovelID,
		&chain.GlobalModelID, &overrides, &constraints, &chain.CreatedAt, &chain.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeChainGlobals(&chain.ChainPayload, overrides, constraints); err != nil {
		return nil, err
	}
	if err := s.loadStepRows(ctx, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

func (s *store) UpdateChain(ctx context.Context, chain *StoredChain) error {
	chain.UpdatedAt = time.Now().UTC()

	overrides, constraints, err := encodeChainGlobals(&chain.ChainPayload)
	if err != nil {
		return err
	}

	result, err := s.Exec.ExecContext(ctx, `
		UPDATE chains SET
		name = $2, description = $3, is_template = $4, novel_id = $5, global_model_id = $6,
		global_llm_overrides = $7, global_constraints = $8, updated_at = $9
		WHERE id = $1`,
		chain.ID, chain.Name, chain.Description, chain.IsTemplate, chain.NovelID,
		chain.GlobalModelID, overrides, constraints, chain.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update chain: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}
	// The step arrays are replaced wholesale; position is re-derived on every
	// save from the final list order.
	if _, err := s.Exec.ExecContext(ctx, `DELETE FROM chain_steps WHERE chain_id = $1`, chain.ID); err != nil {
		return fmt.Errorf("failed to clear chain steps: %w", err)
	}
	if _, err := s.Exec.ExecContext(ctx, `DELETE FROM chain_template_refs WHERE chain_id = $1`, chain.ID); err != nil {
		return fmt.Errorf("failed to clear template refs: %w", err)
	}
	return s.replaceStepRows(ctx, chain)
}

func (s *store) DeleteChain(ctx context.Context, id string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM chains WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete chain: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *store) ListChains(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*ChainMeta, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}

	cursor := time.Now().UTC()
	if createdAtCursor != nil {
		cursor = *createdAtCursor
	}

	rows, err := s.Exec.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.is_template, c.novel_id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM chain_steps s WHERE s.chain_id = c.id) +
		       (SELECT COUNT(*) FROM chain_template_refs r WHERE r.chain_id = c.id)
		FROM chains c WHERE c.created_at < $1
		ORDER BY c.created_at DESC
		LIMIT $2`,
		cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	defer rows.Close()

	var chains []*ChainMeta
	for rows.Next() {
		var m ChainMeta
		if err := rows.Scan(
			&m.ID, &m.Name, &m.Description, &m.IsTemplate, &m.NovelID,
			&m.CreatedAt, &m.UpdatedAt, &m.StepCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chain: %w", err)
		}
		chains = append(chains, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if chains == nil {
		return []*ChainMeta{}, nil
	}
	return chains, nil
}

func (s *store) EstimateChainCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.Exec.QueryRowContext(ctx, `SELECT estimate_row_count('chains')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate chain count: %w", err)
	}
	return count, nil
}

func (s *store) replaceStepRows(ctx context.Context, chain *StoredChain) error {
	for _, record := range chain.Steps {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode step record: %w", err)
		}
		if _, err := s.Exec.ExecContext(ctx, `
			INSERT INTO chain_steps (chain_id, position, enabled, task_type, record)
			VALUES ($1, $2, $3, $4, $5)`,
			chain.ID, record.Order, record.Enabled, record.TaskType, encoded,
		); err != nil {
			return fmt.Errorf("failed to insert step: %w", err)
		}
	}
	for _, ref := range chain.TemplateAssociations {
		if _, err := s.Exec.ExecContext(ctx, `
			INSERT INTO chain_template_refs (chain_id, template_id, position, enabled)
			VALUES ($1, $2, $3, $4)`,
			chain.ID, ref.TemplateID, ref.Order, ref.Enabled,
		); err != nil {
			return fmt.Errorf("failed to insert template ref: %w", err)
		}
	}
	return nil
}

func (s *store) loadStepRows(ctx context.Context, chain *StoredChain) error {
	chain.Steps = []chainengine.PrivateStepRecord{}
	chain.TemplateAssociations = []chainengine.TemplateRefRecord{}

	rows, err := s.Exec.QueryContext(ctx, `
		SELECT record FROM chain_steps WHERE chain_id = $1 ORDER BY position ASC`, chain.ID)
	if err != nil {
		return fmt.Errorf("failed to query chain steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}
		var record chainengine.PrivateStepRecord
		if err := json.Unmarshal(encoded, &record); err != nil {
			return fmt.Errorf("failed to decode step record: %w", err)
		}
		chain.Steps = append(chain.Steps, record)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	refRows, err := s.Exec.QueryContext(ctx, `
		SELECT template_id, position, enabled FROM chain_template_refs
		WHERE chain_id = $1 ORDER BY position ASC`, chain.ID)
	if err != nil {
		return fmt.Errorf("failed to query template refs: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var ref chainengine.TemplateRefRecord
		if err := refRows.Scan(&ref.TemplateID, &ref.Order, &ref.Enabled); err != nil {
			return fmt.Errorf("failed to scan template ref: %w", err)
		}
		chain.TemplateAssociations = append(chain.TemplateAssociations, ref)
	}
	return refRows.Err()
}

func encodeChainGlobals(payload *chainengine.ChainPayload) ([]byte, []byte, error) {
	overrides := payload.GlobalLLMOverrideParameters
	if overrides == nil {
		overrides = map[string]any{}
	}
	encodedOverrides, err := json.Marshal(overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode global overrides: %w", err)
	}
	var encodedConstraints []byte
	if payload.GlobalGenerationConstraints != nil {
		encodedConstraints, err = json.Marshal(payload.GlobalGenerationConstraints)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode global constraints: %w", err)
		}
	}
	return encodedOverrides, encodedConstraints, nil
}

func decodeChainGlobals(payload *chainengine.ChainPayload, overrides, constraints []byte) error {
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &payload.GlobalLLMOverrideParameters); err != nil {
			return fmt.Errorf("failed to decode global overrides: %w", err)
		}
	}
	if payload.GlobalLLMOverrideParameters == nil {
		payload.GlobalLLMOverrideParameters = map[string]any{}
	}
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &payload.GlobalGenerationConstraints); err != nil {
			return fmt.Errorf("failed to decode global constraints: %w", err)
		}
	}
	return nil
}
