package postgres

const (
	// queryInsertForwardedRecord stores one forwarded record. A retried send of
	// the same message reuses its id, so ON CONFLICT DO NOTHING makes retries
	// idempotent.
	queryInsertForwardedRecord = `
		INSERT INTO forwarded_records (
			id, kind, sequence_number, content_type, body, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	// querySchemaExists checks that migrations created the table.
	querySchemaExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'forwarded_records'
		)
	`
)
