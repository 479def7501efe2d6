package chainstore

import (
	"context"

	"github.com/chainscribe/chainscribe/libdbexec"
)

// InitSchema creates the chain tables
func InitSchema(ctx context.Context, exec libdbexec.Exec) error {
	_, err := exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chains (
		    id TEXT PRIMARY KEY,
		    name TEXT NOT NULL,
		    description TEXT,
		    is_template BOOLEAN NOT NULL DEFAULT FALSE,
		    novel_id TEXT,
		    global_model_id TEXT,
		    global_llm_overrides JSONB NOT NULL DEFAULT '{}',
		    global_constraints JSONB,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chain_steps (
		    id BIGSERIAL PRIMARY KEY,
		    chain_id TEXT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
		    position INT NOT NULL,
		    enabled BOOLEAN NOT NULL,
		    task_type TEXT NOT NULL,
		    record JSONB NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chain_template_refs (
		    chain_id TEXT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
		    template_id TEXT NOT NULL,
		    position INT NOT NULL,
		    enabled BOOLEAN NOT NULL,
		    PRIMARY KEY (chain_id, position)
		);
	`)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chains_created_at ON chains(created_at);
	`)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chain_steps_chain_id ON chain_steps(chain_id);
	`)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chain_template_refs_chain_id ON chain_template_refs(chain_id);
	`)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		CREATE OR REPLACE FUNCTION estimate_row_count(table_name TEXT)
		RETURNS BIGINT AS $$
		DECLARE
		    result BIGINT;
		BEGIN
		    SELECT reltuples::BIGINT
		    INTO result
		    FROM pg_class
		    WHERE relname = table_name;

		    RETURN COALESCE(result, 0);
		END;
		$$ LANGUAGE plpgsql STABLE;
	`)
	if err != nil {
		return err
	}

	return nil
}
