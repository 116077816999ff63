package model

import (
	"fmt"
	"time"
)

// Submission sources.
const (
	SourceAPI    = "api"
	SourceInvite = "invite"
	SourceBulk   = "bulk"
)

// Preferences holds per-submitter settings, including the default-value
// chain consulted by the default resolver.
type Preferences struct {
	DefaultValues map[string]any `json:"default_values,omitempty"`
	SendEmail     *bool          `json:"send_email,omitempty"`
	SendSMS       *bool          `json:"send_sms,omitempty"`
}

// DefaultValue returns the preference default for the given key, or nil.
func (p Preferences) DefaultValue(key string) any {
	if p.DefaultValues == nil {
		return nil
	}
	return p.DefaultValues[key]
}

// Submitter is one signing party of a submission. Its UUID matches a
// SignerRole UUID within the submission snapshot.
type Submitter struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	UUID         string         `json:"uuid"`
	AccountID    string         `json:"account_id"`
	Email        string         `json:"email"`
	Name         string         `json:"name,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Values       map[string]any `json:"values"`
	Preferences  Preferences    `json:"preferences"`

	// Lifecycle timestamps. Each is set once and never cleared;
	// CompletedAt and DeclinedAt are mutually exclusive.
	SentAt      *time.Time `json:"sent_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Completed reports whether the submitter has finished signing.
func (s *Submitter) Completed() bool {
	return s.CompletedAt != nil
}

// Declined reports whether the submitter declined to sign.
func (s *Submitter) Declined() bool {
	return s.DeclinedAt != nil
}

// Pending reports whether the submitter still owes an action, i.e. has
// neither completed nor declined.
func (s *Submitter) Pending() bool {
	return s.CompletedAt == nil && s.DeclinedAt == nil
}

// MarkSent records the first notification dispatch. Subsequent calls are
// no-ops; the timestamp is monotonic.
func (s *Submitter) MarkSent(now time.Time) {
	if s.SentAt == nil {
		t := now
		s.SentAt = &t
	}
}

// MarkOpened records the first time the submitter opened the form.
func (s *Submitter) MarkOpened(now time.Time) {
	if s.OpenedAt == nil {
		t := now
		s.OpenedAt = &t
	}
}

// MarkCompleted sets the completion timestamp. It fails if the submitter has
// already declined; a repeated completion is a no-op.
func (s *Submitter) MarkCompleted(now time.Time) error {
	if s.DeclinedAt != nil {
		return NewConflictError(
			fmt.Sprintf("submitter %q has declined and cannot complete", s.UUID),
		)
	}
	if s.CompletedAt == nil {
		t := now
		s.CompletedAt = &t
	}
	return nil
}

// MarkDeclined sets the decline timestamp. It fails if the submitter has
// already completed; a repeated decline is a no-op.
func (s *Submitter) MarkDeclined(now time.Time) error {
	if s.CompletedAt != nil {
		return NewConflictError(
			fmt.Sprintf("submitter %q has completed and cannot decline", s.UUID),
		)
	}
	if s.DeclinedAt == nil {
		t := now
		s.DeclinedAt = &t
	}
	return nil
}

// Submission event types.
const (
	EventCreated   = "created"
	EventSent      = "sent"
	EventOpened    = "opened"
	EventCompleted = "completed"
	EventDeclined  = "declined"
	EventArchived  = "archived"
	EventExpired   = "expired"
)

// SubmissionEvent is one entry of the audit trail persisted with the
// submission. SubmitterID is empty for submission-level events.
type SubmissionEvent struct {
	Type        string    `json:"type"`
	SubmitterID string    `json:"submitter_id,omitempty"`
	At          time.Time `json:"at"`
}

// Submission is an in-flight signing workflow created from a template. The
// template's fields, roles, and schema are copied into the submission at
// creation (write-once) so later template edits never alter it.
type Submission struct {
	ID              string `json:"id"`
	TemplateID      string `json:"template_id"`
	AccountID       string `json:"account_id"`
	CreatedByUserID string `json:"created_by_user_id,omitempty"`
	Source          string `json:"source"`

	TemplateFields     []FieldDefinition     `json:"template_fields"`
	TemplateSubmitters []SignerRole          `json:"template_submitters"`
	TemplateSchema     []DocumentSchemaEntry `json:"template_schema,omitempty"`
	SubmittersOrder    string                `json:"submitters_order"`

	Submitters []Submitter       `json:"submitters"`
	Events     []SubmissionEvent `json:"events,omitempty"`

	ExpireAt   *time.Time `json:"expire_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Version    int        `json:"version"`
}

// AppendEvent adds an audit trail entry.
func (s *Submission) AppendEvent(eventType, submitterID string, at time.Time) {
	s.Events = append(s.Events, SubmissionEvent{
		Type:        eventType,
		SubmitterID: submitterID,
		At:          at,
	})
}

// OrderPreserved reports whether the submission uses the preserved ordering
// policy.
func (s *Submission) OrderPreserved() bool {
	return s.SubmittersOrder == SubmittersOrderPreserved
}

// Active reports whether the submission can still advance: not archived and
// not past its deadline.
func (s *Submission) Active(now time.Time) bool {
	if s.ArchivedAt != nil {
		return false
	}
	if s.ExpireAt != nil && now.After(*s.ExpireAt) {
		return false
	}
	return true
}

// FieldIndex returns the snapshot fields keyed by field UUID.
func (s *Submission) FieldIndex() map[string]FieldDefinition {
	index := make(map[string]FieldDefinition, len(s.TemplateFields))
	for _, f := range s.TemplateFields {
		index[f.UUID] = f
	}
	return index
}

// SubmitterByUUID returns the submitter bound to the given role UUID, or nil.
func (s *Submission) SubmitterByUUID(uuid string) *Submitter {
	for i := range s.Submitters {
		if s.Submitters[i].UUID == uuid {
			return &s.Submitters[i]
		}
	}
	return nil
}

// SubmitterByID returns the submitter with the given record ID, or nil.
func (s *Submission) SubmitterByID(id string) *Submitter {
	for i := range s.Submitters {
		if s.Submitters[i].ID == id {
			return &s.Submitters[i]
		}
	}
	return nil
}

// CollectedValues merges every submitter's values into a single field-UUID
// keyed map, in declaration order so later submitters win on overlap.
func (s *Submission) CollectedValues() map[string]any {
	values := make(map[string]any)
	for i := range s.Submitters {
		for k, v := range s.Submitters[i].Values {
			values[k] = v
		}
	}
	return values
}

// ValidateSnapshot checks the snapshot's internal references: every field
// must belong to a declared role and every condition must reference a known
// field. Malformed snapshots are rejected here rather than failing deep
// inside evaluation.
func (s *Submission) ValidateSnapshot() error {
	var details []FieldError

	roles := make(map[string]bool, len(s.TemplateSubmitters))
	for _, role := range s.TemplateSubmitters {
		if role.UUID == "" {
			details = append(details, FieldError{
				Field:   "template_submitters",
				Code:    "missing_uuid",
				Message: fmt.Sprintf("role %q has no uuid", role.Name),
			})
			continue
		}
		roles[role.UUID] = true
	}
	if len(roles) == 0 {
		details = append(details, FieldError{
			Field:   "template_submitters",
			Code:    "empty",
			Message: "snapshot declares no signer roles",
		})
	}

	fields := make(map[string]bool, len(s.TemplateFields))
	for _, f := range s.TemplateFields {
		fields[f.UUID] = true
	}

	for _, f := range s.TemplateFields {
		if !roles[f.SubmitterUUID] {
			details = append(details, FieldError{
				Field:   f.UUID,
				Code:    "unknown_role",
				Message: fmt.Sprintf("field %q references unknown role %q", f.Name, f.SubmitterUUID),
			})
		}
		if !f.Type.Valid() {
			details = append(details, FieldError{
				Field:   f.UUID,
				Code:    "unknown_type",
				Message: fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type),
			})
		}
		for _, c := range f.Conditions {
			if !fields[c.FieldUUID] {
				details = append(details, FieldError{
					Field:   f.UUID,
					Code:    "unknown_condition_field",
					Message: fmt.Sprintf("condition on field %q references unknown field %q", f.Name, c.FieldUUID),
				})
			}
		}
	}

	for _, entry := range s.TemplateSchema {
		for _, c := range entry.Conditions {
			if !fields[c.FieldUUID] {
				details = append(details, FieldError{
					Field:   entry.AttachmentUUID,
					Code:    "unknown_condition_field",
					Message: fmt.Sprintf("schema entry %q references unknown field %q", entry.Name, c.FieldUUID),
				})
			}
		}
	}

	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}
