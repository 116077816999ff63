package workflow

import (
	"context"
	"time"

	"github.com/countersignhq/countersign/model"
)

// SubmissionStore persists templates, submissions, and their submitters.
type SubmissionStore interface {
	// CreateTemplate persists a new template.
	CreateTemplate(ctx context.Context, tmpl model.Template) error

	// GetTemplate retrieves a template by ID, scoped to an account. Returns
	// NOT_FOUND if it doesn't exist or belongs to another account.
	GetTemplate(ctx context.Context, accountID, templateID string) (model.Template, error)

	// Create persists a new submission together with its submitters.
	Create(ctx context.Context, sub model.Submission) error

	// Get retrieves a submission with its submitters, scoped to an account.
	Get(ctx context.Context, accountID, submissionID string) (model.Submission, error)

	// Update persists submission-level state with optimistic locking. The
	// version must match the stored version; CONFLICT otherwise.
	Update(ctx context.Context, sub model.Submission) error

	// UpdateSubmitter persists one submitter's values and timestamps with
	// optimistic locking on the submitter's own version.
	UpdateSubmitter(ctx context.Context, submitter model.Submitter) error

	// List returns submissions for an account, newest first.
	List(ctx context.Context, accountID string, filters ListFilters) ([]model.Submission, error)

	// FindExpired returns unarchived submissions whose expire_at is before
	// the cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]model.Submission, error)
}

// ListFilters are optional filters for listing submissions.
type ListFilters struct {
	TemplateID string
	Limit      int
	Offset     int
}
