// Package defaults pre-fills submitter field values from stored preferences,
// the matched account user, and template-declared defaults.
package defaults

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/assets"
	"github.com/countersignhq/countersign/model"
)

// Resolver computes default values for snapshot fields. It never overwrites
// values the signer already provided unless the caller forces a refill.
type Resolver struct {
	assets assets.Store
	logger *zap.Logger
	filled prometheus.Counter
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFilledCounter wires the counter incremented once per value filled.
func WithFilledCounter(c prometheus.Counter) ResolverOption {
	return func(r *Resolver) { r.filled = c }
}

// NewResolver creates a Resolver. The asset store may be nil, in which case
// initials fields resolve to nothing.
func NewResolver(store assets.Store, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{assets: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FillDefaults walks the submitter's fields and fills every empty value that
// has a resolvable default. Existing values are kept unless force is set. It
// reports whether anything changed so callers can skip a needless save.
func (r *Resolver) FillDefaults(
	ctx context.Context,
	sub *model.Submission,
	submitter *model.Submitter,
	user *model.User,
	force bool,
) (bool, error) {
	changed := false
	for _, field := range sub.TemplateFields {
		if field.SubmitterUUID != submitter.UUID {
			continue
		}
		if !force && present(submitter.Values[field.UUID]) {
			continue
		}

		value, err := r.Resolve(ctx, field, submitter, user)
		if err != nil {
			return changed, err
		}
		if !present(value) {
			continue
		}

		if submitter.Values == nil {
			submitter.Values = make(map[string]any)
		}
		submitter.Values[field.UUID] = value
		changed = true
		if r.filled != nil {
			r.filled.Inc()
		}
		r.logger.Debug("filled default value",
			zap.String("submitter_id", submitter.ID),
			zap.String("field_uuid", field.UUID),
			zap.String("field_type", string(field.Type)),
		)
	}
	return changed, nil
}

// Resolve returns the default value for a single field, or nil when nothing
// applies. The user is the account member matched by the submitter's
// normalized email and may be nil.
func (r *Resolver) Resolve(
	ctx context.Context,
	field model.FieldDefinition,
	submitter *model.Submitter,
	user *model.User,
) (any, error) {
	name := strings.ToLower(field.Name)

	if field.Type.IsCandidateProfile() {
		return r.profileValue(field, string(field.Type), submitter), nil
	}
	// Profession fields predate the candidate-profile family but resolve
	// through the same preference chain.
	if strings.Contains(name, "profession") || field.Type == model.FieldTypeProfession {
		return r.profileValue(field, string(model.FieldTypeProfession), submitter), nil
	}

	switch {
	case name == "full name" || name == "legal name":
		if user != nil {
			return nonEmpty(user.FullName()), nil
		}
		return nil, nil
	case name == "first name":
		if user != nil {
			return nonEmpty(user.FirstName), nil
		}
		return nil, nil
	case name == "last name":
		if user != nil {
			return nonEmpty(user.LastName), nil
		}
		return nil, nil
	case field.Type == model.FieldTypeInitials && user != nil && r.assets != nil:
		return r.initialsValue(ctx, submitter, user, field)
	default:
		return field.DefaultValue, nil
	}
}

// profileValue walks the preference chain for profile-backed fields: the raw
// type key first, then the canonical display label, then the template's own
// field name, and finally the template default.
func (r *Resolver) profileValue(field model.FieldDefinition, typeKey string, submitter *model.Submitter) any {
	label := model.FieldType(typeKey).DisplayLabel(field.Name)

	if v := submitter.Preferences.DefaultValue(typeKey); present(v) {
		return v
	}
	if v := submitter.Preferences.DefaultValue(label); present(v) {
		return v
	}
	if v := submitter.Preferences.DefaultValue(field.Name); present(v) {
		return v
	}
	return field.DefaultValue
}

// initialsValue attaches the user's stored initials blob to the submitter and
// returns the attachment uuid. Falls back to the template default when the
// user has no initials on file.
func (r *Resolver) initialsValue(
	ctx context.Context,
	submitter *model.Submitter,
	user *model.User,
	field model.FieldDefinition,
) (any, error) {
	blobID, err := r.assets.FindInitials(ctx, user)
	if err != nil {
		return nil, err
	}
	if blobID == "" {
		return field.DefaultValue, nil
	}
	attachmentUUID, err := r.assets.AttachToSubmitter(ctx, submitter.ID, blobID)
	if err != nil {
		return nil, err
	}
	return attachmentUUID, nil
}

// present mirrors the emptiness rules used when deciding whether a value
// counts as filled: nil, blank strings, false, and empty collections do not.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case bool:
		return x
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
