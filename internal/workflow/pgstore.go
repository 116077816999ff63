package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/countersignhq/countersign/model"
)

// PgSubmissionStore is a PostgreSQL-backed SubmissionStore using pgx/v5.
// Snapshot columns (fields, roles, schema) and submitter values are stored
// as JSONB since they are written once and read whole.
type PgSubmissionStore struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionStore creates a PostgreSQL submission store.
func NewPgSubmissionStore(pool *pgxpool.Pool) *PgSubmissionStore {
	return &PgSubmissionStore{pool: pool}
}

// HealthCheck pings the database. Used by the readiness endpoint.
func (s *PgSubmissionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateTemplate inserts a new template.
func (s *PgSubmissionStore) CreateTemplate(ctx context.Context, tmpl model.Template) error {
	submittersJSON, err := json.Marshal(tmpl.Submitters)
	if err != nil {
		return fmt.Errorf("marshal template submitters: %w", err)
	}
	fieldsJSON, err := json.Marshal(tmpl.Fields)
	if err != nil {
		return fmt.Errorf("marshal template fields: %w", err)
	}
	schemaJSON, err := json.Marshal(tmpl.Schema)
	if err != nil {
		return fmt.Errorf("marshal template schema: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO templates (
			id, account_id, name, submitters, fields, schema,
			submitters_order, default_expire_hours, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tmpl.ID, tmpl.AccountID, tmpl.Name, submittersJSON, fieldsJSON, schemaJSON,
		tmpl.SubmittersOrder, tmpl.DefaultExpireHours, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID, scoped to an account.
func (s *PgSubmissionStore) GetTemplate(ctx context.Context, accountID, templateID string) (model.Template, error) {
	var tmpl model.Template
	var submittersJSON, fieldsJSON, schemaJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, name, submitters, fields, schema,
		       submitters_order, default_expire_hours, created_at, updated_at
		FROM templates
		WHERE id = $1 AND account_id = $2`,
		templateID, accountID,
	).Scan(
		&tmpl.ID, &tmpl.AccountID, &tmpl.Name, &submittersJSON, &fieldsJSON, &schemaJSON,
		&tmpl.SubmittersOrder, &tmpl.DefaultExpireHours, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Template{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", templateID),
		)
	}
	if err != nil {
		return model.Template{}, fmt.Errorf("query template: %w", err)
	}

	if err := json.Unmarshal(submittersJSON, &tmpl.Submitters); err != nil {
		return model.Template{}, fmt.Errorf("unmarshal template submitters: %w", err)
	}
	if err := json.Unmarshal(fieldsJSON, &tmpl.Fields); err != nil {
		return model.Template{}, fmt.Errorf("unmarshal template fields: %w", err)
	}
	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &tmpl.Schema); err != nil {
			return model.Template{}, fmt.Errorf("unmarshal template schema: %w", err)
		}
	}
	return tmpl, nil
}

// Create inserts a submission and its submitters in one transaction.
func (s *PgSubmissionStore) Create(ctx context.Context, sub model.Submission) error {
	fieldsJSON, err := json.Marshal(sub.TemplateFields)
	if err != nil {
		return fmt.Errorf("marshal snapshot fields: %w", err)
	}
	rolesJSON, err := json.Marshal(sub.TemplateSubmitters)
	if err != nil {
		return fmt.Errorf("marshal snapshot roles: %w", err)
	}
	schemaJSON, err := json.Marshal(sub.TemplateSchema)
	if err != nil {
		return fmt.Errorf("marshal snapshot schema: %w", err)
	}
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO submissions (
			id, template_id, account_id, created_by_user_id, source,
			template_fields, template_submitters, template_schema, submitters_order,
			events, expire_at, archived_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.TemplateID, sub.AccountID, sub.CreatedByUserID, sub.Source,
		fieldsJSON, rolesJSON, schemaJSON, sub.SubmittersOrder,
		eventsJSON, sub.ExpireAt, sub.ArchivedAt, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for i := range sub.Submitters {
		if err := insertSubmitter(ctx, tx, sub.Submitters[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertSubmitter(ctx context.Context, tx pgx.Tx, sm model.Submitter) error {
	valuesJSON, err := json.Marshal(sm.Values)
	if err != nil {
		return fmt.Errorf("marshal submitter values: %w", err)
	}
	prefsJSON, err := json.Marshal(sm.Preferences)
	if err != nil {
		return fmt.Errorf("marshal submitter preferences: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO submitters (
			id, submission_id, uuid, account_id, email, name, phone,
			values, preferences, sent_at, opened_at, completed_at, declined_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sm.ID, sm.SubmissionID, sm.UUID, sm.AccountID, sm.Email, sm.Name, sm.Phone,
		valuesJSON, prefsJSON, sm.SentAt, sm.OpenedAt, sm.CompletedAt, sm.DeclinedAt,
		sm.Version, sm.CreatedAt, sm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submitter: %w", err)
	}
	return nil
}

// Get retrieves a submission with its submitters.
func (s *PgSubmissionStore) Get(ctx context.Context, accountID, submissionID string) (model.Submission, error) {
	sub, err := s.querySubmission(ctx, `
		SELECT id, template_id, account_id, created_by_user_id, source,
		       template_fields, template_submitters, template_schema, submitters_order,
		       events, expire_at, archived_at, version, created_at, updated_at
		FROM submissions
		WHERE id = $1 AND account_id = $2`,
		submissionID, accountID,
	)
	if err != nil {
		return model.Submission{}, err
	}

	sub.Submitters, err = s.querySubmitters(ctx, sub.ID)
	if err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

// Update persists submission-level state with optimistic locking. Snapshot
// columns are write-once and deliberately excluded.
func (s *PgSubmissionStore) Update(ctx context.Context, sub model.Submission) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions SET
			events = $1,
			expire_at = $2,
			archived_at = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		eventsJSON, sub.ExpireAt, sub.ArchivedAt, sub.Version+1, time.Now().UTC(),
		sub.ID, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("submission %q version conflict (expected %d)", sub.ID, sub.Version),
		)
	}
	return nil
}

// UpdateSubmitter persists one submitter with optimistic locking.
func (s *PgSubmissionStore) UpdateSubmitter(ctx context.Context, sm model.Submitter) error {
	valuesJSON, err := json.Marshal(sm.Values)
	if err != nil {
		return fmt.Errorf("marshal submitter values: %w", err)
	}
	prefsJSON, err := json.Marshal(sm.Preferences)
	if err != nil {
		return fmt.Errorf("marshal submitter preferences: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE submitters SET
			email = $1,
			name = $2,
			phone = $3,
			values = $4,
			preferences = $5,
			sent_at = $6,
			opened_at = $7,
			completed_at = $8,
			declined_at = $9,
			version = $10,
			updated_at = $11
		WHERE id = $12 AND version = $13`,
		sm.Email, sm.Name, sm.Phone, valuesJSON, prefsJSON,
		sm.SentAt, sm.OpenedAt, sm.CompletedAt, sm.DeclinedAt,
		sm.Version+1, time.Now().UTC(),
		sm.ID, sm.Version,
	)
	if err != nil {
		return fmt.Errorf("update submitter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("submitter %q version conflict (expected %d)", sm.ID, sm.Version),
		)
	}
	return nil
}

// List returns submissions for an account, newest first.
func (s *PgSubmissionStore) List(ctx context.Context, accountID string, filters ListFilters) ([]model.Submission, error) {
	query := `SELECT id, template_id, account_id, created_by_user_id, source,
	                 template_fields, template_submitters, template_schema, submitters_order,
	                 events, expire_at, archived_at, version, created_at, updated_at
	          FROM submissions
	          WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if filters.TemplateID != "" {
		query += fmt.Sprintf(" AND template_id = $%d", argIdx)
		args = append(args, filters.TemplateID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.querySubmissions(ctx, query, args...)
}

// FindExpired returns unarchived submissions past their deadline.
func (s *PgSubmissionStore) FindExpired(ctx context.Context, cutoff time.Time) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `
		SELECT id, template_id, account_id, created_by_user_id, source,
		       template_fields, template_submitters, template_schema, submitters_order,
		       events, expire_at, archived_at, version, created_at, updated_at
		FROM submissions
		WHERE archived_at IS NULL AND expire_at IS NOT NULL AND expire_at < $1
		ORDER BY expire_at ASC`,
		cutoff,
	)
}

func (s *PgSubmissionStore) querySubmission(ctx context.Context, query string, args ...any) (model.Submission, error) {
	var sub model.Submission
	var fieldsJSON, rolesJSON, schemaJSON, eventsJSON []byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sub.ID, &sub.TemplateID, &sub.AccountID, &sub.CreatedByUserID, &sub.Source,
		&fieldsJSON, &rolesJSON, &schemaJSON, &sub.SubmittersOrder,
		&eventsJSON, &sub.ExpireAt, &sub.ArchivedAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Submission{}, model.NewNotFoundError("submission not found")
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("query submission: %w", err)
	}
	if err := unmarshalSnapshot(&sub, fieldsJSON, rolesJSON, schemaJSON, eventsJSON); err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

func (s *PgSubmissionStore) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var fieldsJSON, rolesJSON, schemaJSON, eventsJSON []byte
		if err := rows.Scan(
			&sub.ID, &sub.TemplateID, &sub.AccountID, &sub.CreatedByUserID, &sub.Source,
			&fieldsJSON, &rolesJSON, &schemaJSON, &sub.SubmittersOrder,
			&eventsJSON, &sub.ExpireAt, &sub.ArchivedAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := unmarshalSnapshot(&sub, fieldsJSON, rolesJSON, schemaJSON, eventsJSON); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range subs {
		subs[i].Submitters, err = s.querySubmitters(ctx, subs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func (s *PgSubmissionStore) querySubmitters(ctx context.Context, submissionID string) ([]model.Submitter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, uuid, account_id, email, name, phone,
		       values, preferences, sent_at, opened_at, completed_at, declined_at,
		       version, created_at, updated_at
		FROM submitters
		WHERE submission_id = $1
		ORDER BY created_at ASC, id ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query submitters: %w", err)
	}
	defer rows.Close()

	var submitters []model.Submitter
	for rows.Next() {
		var sm model.Submitter
		var valuesJSON, prefsJSON []byte
		if err := rows.Scan(
			&sm.ID, &sm.SubmissionID, &sm.UUID, &sm.AccountID, &sm.Email, &sm.Name, &sm.Phone,
			&valuesJSON, &prefsJSON, &sm.SentAt, &sm.OpenedAt, &sm.CompletedAt, &sm.DeclinedAt,
			&sm.Version, &sm.CreatedAt, &sm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submitter: %w", err)
		}
		if valuesJSON != nil {
			if err := json.Unmarshal(valuesJSON, &sm.Values); err != nil {
				return nil, fmt.Errorf("unmarshal submitter values: %w", err)
			}
		}
		if prefsJSON != nil {
			if err := json.Unmarshal(prefsJSON, &sm.Preferences); err != nil {
				return nil, fmt.Errorf("unmarshal submitter preferences: %w", err)
			}
		}
		submitters = append(submitters, sm)
	}
	return submitters, rows.Err()
}

func unmarshalSnapshot(sub *model.Submission, fieldsJSON, rolesJSON, schemaJSON, eventsJSON []byte) error {
	if fieldsJSON != nil {
		if err := json.Unmarshal(fieldsJSON, &sub.TemplateFields); err != nil {
			return fmt.Errorf("unmarshal snapshot fields: %w", err)
		}
	}
	if rolesJSON != nil {
		if err := json.Unmarshal(rolesJSON, &sub.TemplateSubmitters); err != nil {
			return fmt.Errorf("unmarshal snapshot roles: %w", err)
		}
	}
	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &sub.TemplateSchema); err != nil {
			return fmt.Errorf("unmarshal snapshot schema: %w", err)
		}
	}
	if eventsJSON != nil {
		if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
			return fmt.Errorf("unmarshal events: %w", err)
		}
	}
	return nil
}
