package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/countersignhq/countersign/model"
)

// MemorySubmissionStore is an in-memory SubmissionStore for testing and
// single-process runs.
type MemorySubmissionStore struct {
	mu          sync.RWMutex
	templates   map[string]model.Template   // key: template ID
	submissions map[string]model.Submission // key: submission ID
}

// NewMemorySubmissionStore creates an empty in-memory store.
func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{
		templates:   make(map[string]model.Template),
		submissions: make(map[string]model.Submission),
	}
}

// CreateTemplate persists a new template.
func (s *MemorySubmissionStore) CreateTemplate(_ context.Context, tmpl model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tmpl.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("template %q already exists", tmpl.ID))
	}
	s.templates[tmpl.ID] = tmpl
	return nil
}

// GetTemplate retrieves a template by ID, scoped to an account.
func (s *MemorySubmissionStore) GetTemplate(_ context.Context, accountID, templateID string) (model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, exists := s.templates[templateID]
	if !exists || tmpl.AccountID != accountID {
		return model.Template{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", templateID),
		)
	}
	return tmpl, nil
}

// Create persists a new submission.
func (s *MemorySubmissionStore) Create(_ context.Context, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.submissions[sub.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("submission %q already exists", sub.ID))
	}
	s.submissions[sub.ID] = cloneSubmission(sub)
	return nil
}

// Get retrieves a submission by ID, scoped to an account.
func (s *MemorySubmissionStore) Get(_ context.Context, accountID, submissionID string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.submissions[submissionID]
	if !exists || sub.AccountID != accountID {
		return model.Submission{}, model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", submissionID),
		)
	}
	return cloneSubmission(sub), nil
}

// Update persists submission-level state with optimistic locking.
func (s *MemorySubmissionStore) Update(_ context.Context, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.submissions[sub.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("submission %q not found", sub.ID))
	}
	if existing.Version != sub.Version {
		return model.NewConflictError(
			fmt.Sprintf("submission %q version conflict (expected %d, got %d)", sub.ID, sub.Version, existing.Version),
		)
	}

	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	s.submissions[sub.ID] = cloneSubmission(sub)
	return nil
}

// UpdateSubmitter persists one submitter with optimistic locking on the
// submitter's own version.
func (s *MemorySubmissionStore) UpdateSubmitter(_ context.Context, submitter model.Submitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.submissions[submitter.SubmissionID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", submitter.SubmissionID),
		)
	}
	for i := range sub.Submitters {
		if sub.Submitters[i].ID != submitter.ID {
			continue
		}
		if sub.Submitters[i].Version != submitter.Version {
			return model.NewConflictError(
				fmt.Sprintf("submitter %q version conflict (expected %d, got %d)",
					submitter.ID, submitter.Version, sub.Submitters[i].Version),
			)
		}
		submitter.Version++
		submitter.UpdatedAt = time.Now().UTC()
		sub.Submitters[i] = cloneSubmitter(submitter)
		s.submissions[sub.ID] = sub
		return nil
	}
	return model.NewNotFoundError(fmt.Sprintf("submitter %q not found", submitter.ID))
}

// List returns submissions for an account, newest first.
func (s *MemorySubmissionStore) List(_ context.Context, accountID string, filters ListFilters) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Submission
	for _, sub := range s.submissions {
		if sub.AccountID != accountID {
			continue
		}
		if filters.TemplateID != "" && sub.TemplateID != filters.TemplateID {
			continue
		}
		result = append(result, cloneSubmission(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Submission{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// FindExpired returns unarchived submissions past their deadline.
func (s *MemorySubmissionStore) FindExpired(_ context.Context, cutoff time.Time) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Submission
	for _, sub := range s.submissions {
		if sub.ArchivedAt != nil {
			continue
		}
		if sub.ExpireAt == nil || !sub.ExpireAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneSubmission(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpireAt.Before(*result[j].ExpireAt)
	})
	return result, nil
}

// Len returns the number of stored submissions. For testing.
func (s *MemorySubmissionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.submissions)
}

// cloneSubmission copies the submitter slice and each submitter's value map
// so callers never share mutable state with the store.
func cloneSubmission(sub model.Submission) model.Submission {
	submitters := make([]model.Submitter, len(sub.Submitters))
	for i := range sub.Submitters {
		submitters[i] = cloneSubmitter(sub.Submitters[i])
	}
	sub.Submitters = submitters
	sub.Events = append([]model.SubmissionEvent(nil), sub.Events...)
	return sub
}

func cloneSubmitter(s model.Submitter) model.Submitter {
	if s.Values != nil {
		values := make(map[string]any, len(s.Values))
		for k, v := range s.Values {
			values[k] = v
		}
		s.Values = values
	}
	return s
}
