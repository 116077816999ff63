package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/defaults"
	"github.com/countersignhq/countersign/internal/email"
	"github.com/countersignhq/countersign/internal/identity"
	"github.com/countersignhq/countersign/internal/routing"
	"github.com/countersignhq/countersign/internal/schema"
	"github.com/countersignhq/countersign/model"
)

// SignerInput binds a person to a signer role at submission creation.
// RoleUUID may be empty, in which case inputs are matched to roles
// positionally in declaration order.
type SignerInput struct {
	RoleUUID    string             `json:"role_uuid,omitempty"`
	Email       string             `json:"email"`
	Name        string             `json:"name,omitempty"`
	Phone       string             `json:"phone,omitempty"`
	Values      map[string]any     `json:"values,omitempty"`
	Preferences model.Preferences  `json:"preferences,omitempty"`
}

// CreateOptions tune submission creation.
type CreateOptions struct {
	Source           string     `json:"source,omitempty"`
	ExpireAt         *time.Time `json:"expire_at,omitempty"`
	SendDelaySeconds int        `json:"send_delay_seconds,omitempty"`

	// MarkAsSent stamps every submitter as already notified and suppresses
	// the initial notify effects. Used when invitations go out through a
	// channel this service doesn't control.
	MarkAsSent bool `json:"mark_as_sent,omitempty"`
}

// Orchestrator composes the core: it snapshots templates into submissions,
// pre-fills defaults, evaluates visibility, and computes notification waves.
// It is synchronous and returns side effects for the caller to dispatch.
type Orchestrator struct {
	store      SubmissionStore
	identity   identity.Lookup
	normalizer *email.Normalizer
	evaluator  *schema.Evaluator
	resolver   *defaults.Resolver
	router     *routing.Router
	logger     *zap.Logger
	created    prometheus.Counter
	now        func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source. For testing.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithCreatedCounter wires the counter incremented per created submission.
func WithCreatedCounter(c prometheus.Counter) OrchestratorOption {
	return func(o *Orchestrator) { o.created = c }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	store SubmissionStore,
	lookup identity.Lookup,
	normalizer *email.Normalizer,
	evaluator *schema.Evaluator,
	resolver *defaults.Resolver,
	router *routing.Router,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:      store,
		identity:   lookup,
		normalizer: normalizer,
		evaluator:  evaluator,
		resolver:   resolver,
		router:     router,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateSubmission snapshots the template, binds signers to roles, pre-fills
// defaults, persists the submission, and returns it with the initial wave's
// notify effects.
func (o *Orchestrator) CreateSubmission(
	ctx context.Context,
	rctx *model.RequestContext,
	templateID string,
	signers []SignerInput,
	opts CreateOptions,
) (model.Submission, []NotifyEffect, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submission{}, nil, model.NewUnauthorizedError(err.Error())
	}

	tmpl, err := o.store.GetTemplate(ctx, rctx.AccountID, templateID)
	if err != nil {
		return model.Submission{}, nil, err
	}

	bound, err := bindSigners(tmpl.Submitters, signers)
	if err != nil {
		return model.Submission{}, nil, err
	}

	sub, err := o.create(ctx, rctx, tmpl, bound, opts)
	if err != nil {
		return model.Submission{}, nil, err
	}
	if opts.MarkAsSent {
		return sub, nil, nil
	}
	return sub, o.waveEffects(&sub, opts.SendDelaySeconds), nil
}

// CreateFromEmails creates one single-signer submission per address parsed
// from free-form input, binding each to the template's first role. Duplicate
// addresses collapse. Mirrors bulk-send flows where a link or email blast
// fans one template out to many recipients.
func (o *Orchestrator) CreateFromEmails(
	ctx context.Context,
	rctx *model.RequestContext,
	templateID string,
	emails string,
	opts CreateOptions,
) ([]model.Submission, []NotifyEffect, error) {
	if err := rctx.Validate(); err != nil {
		return nil, nil, model.NewUnauthorizedError(err.Error())
	}

	tmpl, err := o.store.GetTemplate(ctx, rctx.AccountID, templateID)
	if err != nil {
		return nil, nil, err
	}
	if len(tmpl.Submitters) == 0 {
		return nil, nil, model.NewValidationError([]model.FieldError{{
			Field:   "template_submitters",
			Code:    "empty",
			Message: "template declares no signer roles",
		}})
	}
	if opts.Source == "" {
		opts.Source = model.SourceBulk
	}

	seen := make(map[string]bool)
	var addrs []string
	for _, raw := range email.ParseList(emails) {
		addr := o.normalizer.Normalize(raw)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, nil, model.NewValidationError([]model.FieldError{{
			Field:   "emails",
			Code:    "empty",
			Message: "no valid email addresses found",
		}})
	}

	firstRole := tmpl.Submitters[0].UUID
	var subs []model.Submission
	var effects []NotifyEffect
	for i, addr := range addrs {
		sub, err := o.create(ctx, rctx, tmpl, []SignerInput{{RoleUUID: firstRole, Email: addr}}, opts)
		if err != nil {
			return subs, effects, err
		}
		subs = append(subs, sub)

		if opts.MarkAsSent {
			continue
		}
		delay := 0
		if opts.SendDelaySeconds > 0 {
			// Stagger bulk sends one second apart so the notifier isn't hit
			// with the whole batch at once.
			delay = opts.SendDelaySeconds + i
		}
		effects = append(effects, o.waveEffects(&sub, delay)...)
	}
	return subs, effects, nil
}

// create builds, validates, default-fills, and persists one submission.
// Signer emails are expected raw; normalization happens here.
func (o *Orchestrator) create(
	ctx context.Context,
	rctx *model.RequestContext,
	tmpl model.Template,
	signers []SignerInput,
	opts CreateOptions,
) (model.Submission, error) {
	now := o.now().UTC()
	source := opts.Source
	if source == "" {
		source = model.SourceAPI
	}
	expireAt := opts.ExpireAt
	if expireAt == nil {
		expireAt = tmpl.DefaultExpireAt(now)
	}

	sub := model.Submission{
		ID:              uuid.New().String(),
		TemplateID:      tmpl.ID,
		AccountID:       rctx.AccountID,
		CreatedByUserID: rctx.UserID,
		Source:          source,
		TemplateFields:  append([]model.FieldDefinition(nil), tmpl.Fields...),
		TemplateSubmitters: append([]model.SignerRole(nil), tmpl.Submitters...),
		TemplateSchema:  append([]model.DocumentSchemaEntry(nil), tmpl.Schema...),
		SubmittersOrder: tmpl.OrderPolicy(),
		ExpireAt:        expireAt,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, in := range signers {
		values := in.Values
		if values == nil {
			values = make(map[string]any)
		}
		sub.Submitters = append(sub.Submitters, model.Submitter{
			ID:           uuid.New().String(),
			SubmissionID: sub.ID,
			UUID:         in.RoleUUID,
			AccountID:    rctx.AccountID,
			Email:        o.normalizer.Normalize(in.Email),
			Name:         in.Name,
			Phone:        in.Phone,
			Values:       values,
			Preferences:  in.Preferences,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := sub.ValidateSnapshot(); err != nil {
		return model.Submission{}, err
	}

	sub.AppendEvent(model.EventCreated, "", now)
	if opts.MarkAsSent {
		for i := range sub.Submitters {
			sub.Submitters[i].MarkSent(now)
			sub.AppendEvent(model.EventSent, sub.Submitters[i].ID, now)
		}
	}

	for i := range sub.Submitters {
		sm := &sub.Submitters[i]
		user, err := o.lookupUser(ctx, rctx, sm.Email)
		if err != nil {
			return model.Submission{}, err
		}
		if _, err := o.resolver.FillDefaults(ctx, &sub, sm, user, false); err != nil {
			return model.Submission{}, err
		}
	}

	if err := o.store.Create(ctx, sub); err != nil {
		return model.Submission{}, err
	}

	if o.created != nil {
		o.created.Inc()
	}
	o.logger.Info("submission created",
		zap.String("submission_id", sub.ID),
		zap.String("template_id", tmpl.ID),
		zap.String("source", source),
		zap.Int("submitters", len(sub.Submitters)),
	)
	return sub, nil
}

// FillDefaults re-runs default resolution for one submitter and persists the
// result when anything changed.
func (o *Orchestrator) FillDefaults(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID string,
	force bool,
) (model.Submitter, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submitter{}, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submitter{}, err
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return model.Submitter{}, model.NewNotFoundError(
			fmt.Sprintf("submitter %q not found", submitterID),
		)
	}

	user, err := o.lookupUser(ctx, rctx, sm.Email)
	if err != nil {
		return model.Submitter{}, err
	}
	changed, err := o.resolver.FillDefaults(ctx, &sub, sm, user, force)
	if err != nil {
		return model.Submitter{}, err
	}
	if changed {
		if err := o.store.UpdateSubmitter(ctx, *sm); err != nil {
			return model.Submitter{}, err
		}
		sm.Version++
	}
	return *sm, nil
}

// VisibleFields returns the snapshot fields currently visible to one
// submitter, with unevaluable same-signer conditions attached for the client.
func (o *Orchestrator) VisibleFields(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID string,
) ([]model.FieldDefinition, error) {
	if err := rctx.Validate(); err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return nil, err
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("submitter %q not found", submitterID))
	}
	return o.evaluator.FilterFields(&sub, sm), nil
}

// VisibleDocuments returns the document schema entries that currently apply
// to the submission.
func (o *Orchestrator) VisibleDocuments(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID string,
) ([]model.DocumentSchemaEntry, error) {
	if err := rctx.Validate(); err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return nil, err
	}
	return o.evaluator.FilterSchema(&sub), nil
}

// GetSubmission loads one submission with its submitters.
func (o *Orchestrator) GetSubmission(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID string,
) (model.Submission, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submission{}, model.NewUnauthorizedError(err.Error())
	}
	return o.store.Get(ctx, rctx.AccountID, submissionID)
}

// ListSubmissions returns submissions for the account, newest first.
func (o *Orchestrator) ListSubmissions(
	ctx context.Context,
	rctx *model.RequestContext,
	filters ListFilters,
) ([]model.Submission, error) {
	if err := rctx.Validate(); err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}
	return o.store.List(ctx, rctx.AccountID, filters)
}

// AdvanceWorkflow recomputes the current notification wave and returns it
// together with the effects the caller should dispatch. Calling it twice
// without state change yields the same wave; the dispatcher's ledger keeps
// the repeat from re-notifying anyone.
func (o *Orchestrator) AdvanceWorkflow(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID string,
) ([]model.Submitter, []NotifyEffect, error) {
	if err := rctx.Validate(); err != nil {
		return nil, nil, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return nil, nil, err
	}

	wave := o.router.NextWave(&sub, o.now().UTC())
	out := make([]model.Submitter, len(wave))
	for i, sm := range wave {
		out[i] = *sm
	}
	return out, o.waveEffects(&sub, 0), nil
}

// MarkOpened records the first time a submitter opened the signing form.
func (o *Orchestrator) MarkOpened(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID string,
) (model.Submitter, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submitter{}, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submitter{}, err
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return model.Submitter{}, model.NewNotFoundError(
			fmt.Sprintf("submitter %q not found", submitterID),
		)
	}
	if sm.OpenedAt != nil {
		return *sm, nil
	}

	now := o.now().UTC()
	sm.MarkOpened(now)
	if err := o.store.UpdateSubmitter(ctx, *sm); err != nil {
		return model.Submitter{}, err
	}
	sm.Version++
	o.recordEvent(ctx, &sub, model.EventOpened, sm.ID, now)
	return *sm, nil
}

// SubmitValues merges field values supplied by a signer. Keys must belong to
// the submission's field snapshot; the submitter must still be pending and
// the submission still active.
func (o *Orchestrator) SubmitValues(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID string,
	values map[string]any,
) (model.Submitter, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submitter{}, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submitter{}, err
	}
	if !sub.Active(o.now().UTC()) {
		return model.Submitter{}, model.NewConflictError(
			fmt.Sprintf("submission %q is no longer active", submissionID),
		)
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return model.Submitter{}, model.NewNotFoundError(
			fmt.Sprintf("submitter %q not found", submitterID),
		)
	}
	if !sm.Pending() {
		return model.Submitter{}, model.NewConflictError(
			fmt.Sprintf("submitter %q has already finished", submitterID),
		)
	}

	index := sub.FieldIndex()
	var details []model.FieldError
	for key := range values {
		if _, ok := index[key]; !ok {
			details = append(details, model.FieldError{
				Field:   key,
				Code:    "unknown_field",
				Message: fmt.Sprintf("field %q is not part of this submission", key),
			})
		}
	}
	if len(details) > 0 {
		return model.Submitter{}, model.NewValidationError(details)
	}

	if sm.Values == nil {
		sm.Values = make(map[string]any)
	}
	for k, v := range values {
		sm.Values[k] = v
	}
	if err := o.store.UpdateSubmitter(ctx, *sm); err != nil {
		return model.Submitter{}, err
	}
	sm.Version++
	return *sm, nil
}

// Complete marks a submitter finished after verifying every required visible
// field has a value, then returns the next wave's effects.
func (o *Orchestrator) Complete(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID string,
) (model.Submission, []NotifyEffect, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submission{}, nil, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submission{}, nil, err
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return model.Submission{}, nil, model.NewNotFoundError(
			fmt.Sprintf("submitter %q not found", submitterID),
		)
	}

	repeat := sm.CompletedAt != nil
	if !repeat {
		var details []model.FieldError
		for _, field := range o.evaluator.FilterFields(&sub, sm) {
			if !field.Required {
				continue
			}
			if v, ok := sm.Values[field.UUID]; !ok || v == nil || v == "" {
				details = append(details, model.FieldError{
					Field:   field.UUID,
					Code:    "required",
					Message: fmt.Sprintf("field %q requires a value", field.Name),
				})
			}
		}
		if len(details) > 0 {
			return model.Submission{}, nil, model.NewValidationError(details)
		}
	}

	now := o.now().UTC()
	if err := sm.MarkCompleted(now); err != nil {
		return model.Submission{}, nil, err
	}
	if err := o.store.UpdateSubmitter(ctx, *sm); err != nil {
		return model.Submission{}, nil, err
	}
	sm.Version++
	if !repeat {
		o.recordEvent(ctx, &sub, model.EventCompleted, sm.ID, now)
	}

	o.logger.Info("submitter completed",
		zap.String("submission_id", sub.ID),
		zap.String("submitter_id", sm.ID),
	)
	return sub, o.waveEffects(&sub, 0), nil
}

// Decline marks a submitter as having refused to sign. The workflow still
// advances past the declined role.
func (o *Orchestrator) Decline(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID, submitterID, reason string,
) (model.Submission, []NotifyEffect, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submission{}, nil, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submission{}, nil, err
	}
	sm := sub.SubmitterByID(submitterID)
	if sm == nil {
		return model.Submission{}, nil, model.NewNotFoundError(
			fmt.Sprintf("submitter %q not found", submitterID),
		)
	}

	repeat := sm.DeclinedAt != nil
	now := o.now().UTC()
	if err := sm.MarkDeclined(now); err != nil {
		return model.Submission{}, nil, err
	}
	if err := o.store.UpdateSubmitter(ctx, *sm); err != nil {
		return model.Submission{}, nil, err
	}
	sm.Version++
	if !repeat {
		o.recordEvent(ctx, &sub, model.EventDeclined, sm.ID, now)
	}

	o.logger.Info("submitter declined",
		zap.String("submission_id", sub.ID),
		zap.String("submitter_id", sm.ID),
		zap.String("reason", reason),
	)
	return sub, o.waveEffects(&sub, 0), nil
}

// Archive withdraws a submission: future wave computations return empty.
func (o *Orchestrator) Archive(
	ctx context.Context,
	rctx *model.RequestContext,
	submissionID string,
) (model.Submission, error) {
	if err := rctx.Validate(); err != nil {
		return model.Submission{}, model.NewUnauthorizedError(err.Error())
	}

	sub, err := o.store.Get(ctx, rctx.AccountID, submissionID)
	if err != nil {
		return model.Submission{}, err
	}
	if sub.ArchivedAt != nil {
		return sub, nil
	}

	now := o.now().UTC()
	sub.ArchivedAt = &now
	sub.AppendEvent(model.EventArchived, "", now)
	if err := o.store.Update(ctx, sub); err != nil {
		return model.Submission{}, err
	}
	sub.Version++
	return sub, nil
}

// ProcessExpirations archives submissions past their deadline. Individual
// failures are logged and skipped so one bad row never wedges the sweep.
func (o *Orchestrator) ProcessExpirations(ctx context.Context) (int, error) {
	now := o.now().UTC()
	expired, err := o.store.FindExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired submissions: %w", err)
	}

	archived := 0
	for _, sub := range expired {
		sub.ArchivedAt = &now
		sub.AppendEvent(model.EventExpired, "", now)
		if err := o.store.Update(ctx, sub); err != nil {
			o.logger.Warn("archive expired submission",
				zap.String("submission_id", sub.ID),
				zap.Error(err),
			)
			continue
		}
		archived++
		o.logger.Info("submission expired", zap.String("submission_id", sub.ID))
	}
	return archived, nil
}

// recordEvent appends an audit entry and persists the submission. The audit
// trail is best effort; the authoritative state lives on the submitter rows.
func (o *Orchestrator) recordEvent(ctx context.Context, sub *model.Submission, eventType, submitterID string, at time.Time) {
	sub.AppendEvent(eventType, submitterID, at)
	if err := o.store.Update(ctx, *sub); err != nil {
		o.logger.Warn("record audit event",
			zap.String("submission_id", sub.ID),
			zap.String("event", eventType),
			zap.Error(err),
		)
		return
	}
	sub.Version++
}

func (o *Orchestrator) lookupUser(ctx context.Context, rctx *model.RequestContext, addr string) (*model.User, error) {
	if addr == "" || o.identity == nil {
		return nil, nil
	}
	user, err := o.identity.ByEmail(ctx, rctx.AccountID, addr)
	if err != nil {
		return nil, model.NewTransientDependencyError("identity lookup: " + err.Error())
	}
	return user, nil
}

// waveEffects computes the current wave and wraps it as a notify effect.
func (o *Orchestrator) waveEffects(sub *model.Submission, delaySeconds int) []NotifyEffect {
	wave := o.router.NextWave(sub, o.now().UTC())
	if len(wave) == 0 {
		return nil
	}
	ids := make([]string, len(wave))
	for i, sm := range wave {
		ids[i] = sm.ID
	}
	return []NotifyEffect{{
		AccountID:    sub.AccountID,
		SubmissionID: sub.ID,
		SubmitterIDs: ids,
		DelaySeconds: delaySeconds,
	}}
}

// bindSigners matches signer inputs to template roles, by role uuid first
// and positionally for inputs that don't name one.
func bindSigners(roles []model.SignerRole, signers []SignerInput) ([]SignerInput, error) {
	byRole := make(map[string]SignerInput)
	var positional []SignerInput
	for _, in := range signers {
		if in.RoleUUID == "" {
			positional = append(positional, in)
			continue
		}
		if _, dup := byRole[in.RoleUUID]; dup {
			return nil, model.NewValidationError([]model.FieldError{{
				Field:   in.RoleUUID,
				Code:    "duplicate_role",
				Message: fmt.Sprintf("role %q bound more than once", in.RoleUUID),
			}})
		}
		byRole[in.RoleUUID] = in
	}

	var bound []SignerInput
	for _, role := range roles {
		in, ok := byRole[role.UUID]
		if !ok {
			if len(positional) > 0 {
				in, positional = positional[0], positional[1:]
			} else {
				// Unbound roles still get a submitter so the workflow can
				// route to them once an email is attached later.
				in = SignerInput{}
			}
			in.RoleUUID = role.UUID
		} else {
			delete(byRole, role.UUID)
		}
		bound = append(bound, in)
	}

	if len(byRole) > 0 {
		var details []model.FieldError
		for uuid := range byRole {
			details = append(details, model.FieldError{
				Field:   uuid,
				Code:    "unknown_role",
				Message: fmt.Sprintf("signer references unknown role %q", uuid),
			})
		}
		return nil, model.NewValidationError(details)
	}
	return bound, nil
}
