package templatestore

import (
	"context"

	"github.com/chainscribe/chainscribe/libdbexec"
)

// InitSchema creates the template tables
func InitSchema(ctx context.Context, exec libdbexec.Exec) error {
	_, err := exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS templates (
		    id TEXT PRIMARY KEY,
		    name TEXT NOT NULL,
		    task_type TEXT NOT NULL,
		    description TEXT,
		    parameter_schema JSONB NOT NULL DEFAULT '{}',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_templates_created_at ON templates(created_at);
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
