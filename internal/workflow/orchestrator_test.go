package workflow

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/assets"
	"github.com/countersignhq/countersign/internal/defaults"
	"github.com/countersignhq/countersign/internal/email"
	"github.com/countersignhq/countersign/internal/identity"
	"github.com/countersignhq/countersign/internal/routing"
	"github.com/countersignhq/countersign/internal/schema"
	"github.com/countersignhq/countersign/model"
)

type orchestratorFixture struct {
	orch     *Orchestrator
	store    *MemorySubmissionStore
	identity *identity.MemoryLookup
	rctx     *model.RequestContext
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	logger := zap.NewNop()
	store := NewMemorySubmissionStore()
	lookup := identity.NewMemoryLookup()
	orch := NewOrchestrator(
		store,
		lookup,
		email.NewNormalizer(email.NewStaticSuggester(), logger),
		schema.NewEvaluator(logger),
		defaults.NewResolver(assets.NewMemoryStore(), logger),
		routing.NewRouter(logger),
		logger,
	)
	return &orchestratorFixture{
		orch:     orch,
		store:    store,
		identity: lookup,
		rctx:     &model.RequestContext{AccountID: "acct-1", UserID: "user-1"},
	}
}

func (f *orchestratorFixture) mustTemplate(t *testing.T, tmpl model.Template) {
	t.Helper()
	tmpl.AccountID = "acct-1"
	if err := f.store.CreateTemplate(context.Background(), tmpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
}

func singleRoleTemplate() model.Template {
	return model.Template{
		ID:   "tmpl-1",
		Name: "NDA",
		Submitters: []model.SignerRole{
			{UUID: "role-1", Name: "Signer"},
		},
		Fields: []model.FieldDefinition{
			{UUID: "f-name", SubmitterUUID: "role-1", Name: "Comment", Type: model.FieldTypeText},
			{UUID: "f-sig", SubmitterUUID: "role-1", Name: "Signature", Type: model.FieldTypeSignature, Required: true},
		},
	}
}

func orderedTemplate() model.Template {
	one, two := 1, 2
	return model.Template{
		ID:   "tmpl-ord",
		Name: "Tri-party",
		Submitters: []model.SignerRole{
			{UUID: "role-a", Name: "A", Order: &one},
			{UUID: "role-b", Name: "B", Order: &one},
			{UUID: "role-c", Name: "C", Order: &two},
		},
		Fields: []model.FieldDefinition{
			{UUID: "fa", SubmitterUUID: "role-a", Name: "A Field", Type: model.FieldTypeText},
			{UUID: "fb", SubmitterUUID: "role-b", Name: "B Field", Type: model.FieldTypeText},
			{UUID: "fc", SubmitterUUID: "role-c", Name: "C Field", Type: model.FieldTypeText},
		},
	}
}

func TestCreateSubmission_singleRole(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, effects, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "John@gmial.com"}}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}

	if len(sub.Submitters) != 1 {
		t.Fatalf("submitters = %d, want 1", len(sub.Submitters))
	}
	sm := sub.Submitters[0]
	if sm.Email != "john@gmail.com" {
		t.Errorf("email = %q, want normalized john@gmail.com", sm.Email)
	}
	if len(sm.Values) != 0 {
		t.Errorf("values = %v, want empty", sm.Values)
	}
	if sm.CompletedAt != nil {
		t.Error("CompletedAt set on a fresh submitter")
	}
	if sub.SubmittersOrder != model.SubmittersOrderRandom {
		t.Errorf("submitters order = %q, want default random", sub.SubmittersOrder)
	}

	if len(effects) != 1 || len(effects[0].SubmitterIDs) != 1 || effects[0].SubmitterIDs[0] != sm.ID {
		t.Errorf("effects = %+v, want one wave with the single submitter", effects)
	}

	// Persisted.
	if _, err := f.store.Get(ctx, "acct-1", sub.ID); err != nil {
		t.Errorf("stored submission missing: %v", err)
	}
}

func TestCreateSubmission_snapshotIsolation(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}
	if len(sub.TemplateFields) != 2 || len(sub.TemplateSubmitters) != 1 {
		t.Errorf("snapshot incomplete: %d fields, %d roles", len(sub.TemplateFields), len(sub.TemplateSubmitters))
	}
}

func TestCreateSubmission_fillsDefaultsFromMatchedUser(t *testing.T) {
	f := newFixture(t)
	tmpl := singleRoleTemplate()
	tmpl.Fields = append(tmpl.Fields, model.FieldDefinition{
		UUID: "f-full", SubmitterUUID: "role-1", Name: "Full Name", Type: model.FieldTypeText,
	})
	f.mustTemplate(t, tmpl)
	f.identity.Put(model.User{
		ID: "u-9", AccountID: "acct-1", Email: "ada@example.com",
		FirstName: "Ada", LastName: "Lovelace",
	})

	sub, _, err := f.orch.CreateSubmission(context.Background(), f.rctx, "tmpl-1",
		[]SignerInput{{Email: "Ada@example.com"}}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}
	if got := sub.Submitters[0].Values["f-full"]; got != "Ada Lovelace" {
		t.Errorf("Values[f-full] = %v, want Ada Lovelace", got)
	}
}

func TestCreateSubmission_unknownRoleRejected(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())

	_, _, err := f.orch.CreateSubmission(context.Background(), f.rctx, "tmpl-1",
		[]SignerInput{{RoleUUID: "role-x", Email: "a@example.com"}}, CreateOptions{})
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrValidationError {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestCreateSubmission_requiresIdentity(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())

	_, _, err := f.orch.CreateSubmission(context.Background(),
		&model.RequestContext{}, "tmpl-1", nil, CreateOptions{})
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrUnauthorized {
		t.Errorf("error = %v, want UNAUTHORIZED", err)
	}
}

func TestCreateFromEmails(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())

	subs, effects, err := f.orch.CreateFromEmails(context.Background(), f.rctx, "tmpl-1",
		"a@example.com, B@example.com; a@example.com", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFromEmails() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2 (duplicates collapsed)", len(subs))
	}
	if subs[0].Source != model.SourceBulk {
		t.Errorf("source = %q, want bulk", subs[0].Source)
	}
	if subs[1].Submitters[0].Email != "b@example.com" {
		t.Errorf("email = %q, want b@example.com", subs[1].Submitters[0].Email)
	}
	if len(effects) != 2 {
		t.Errorf("effects = %d, want one per submission", len(effects))
	}
}

func TestCreateFromEmails_noValidAddresses(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())

	_, _, err := f.orch.CreateFromEmails(context.Background(), f.rctx, "tmpl-1",
		"not an email at all", CreateOptions{})
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrValidationError {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestOrderedWorkflow_advancesWaveByWave(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, orderedTemplate())
	ctx := context.Background()

	sub, effects, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-ord", []SignerInput{
		{RoleUUID: "role-a", Email: "a@example.com"},
		{RoleUUID: "role-b", Email: "b@example.com"},
		{RoleUUID: "role-c", Email: "c@example.com"},
	}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}
	if len(effects) != 1 || len(effects[0].SubmitterIDs) != 2 {
		t.Fatalf("initial effects = %+v, want one wave of two", effects)
	}

	// Complete the first wave.
	for _, roleUUID := range []string{"role-a", "role-b"} {
		sm := sub.SubmitterByUUID(roleUUID)
		_, waveEffects, err := f.orch.Complete(ctx, f.rctx, sub.ID, sm.ID)
		if err != nil {
			t.Fatalf("Complete(%s) error = %v", roleUUID, err)
		}
		effects = waveEffects
	}

	// After both order-1 roles complete, the wave is role-c alone.
	cID := sub.SubmitterByUUID("role-c").ID
	if len(effects) != 1 || len(effects[0].SubmitterIDs) != 1 || effects[0].SubmitterIDs[0] != cID {
		t.Errorf("effects after first wave = %+v, want only role-c's submitter", effects)
	}

	// Everyone done: no further wave.
	if _, effects, err = f.orch.Complete(ctx, f.rctx, sub.ID, cID); err != nil {
		t.Fatalf("Complete(role-c) error = %v", err)
	}
	if len(effects) != 0 {
		t.Errorf("effects after final completion = %+v, want none", effects)
	}
}

func TestAdvanceWorkflow_idempotentThroughDispatcher(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}

	notifier := &recordingNotifier{}
	d := NewDispatcher(f.store, NewMemoryDispatchLedger(), notifier, zap.NewNop())

	for i := 0; i < 3; i++ {
		wave, effects, err := f.orch.AdvanceWorkflow(ctx, f.rctx, sub.ID)
		if err != nil {
			t.Fatalf("AdvanceWorkflow() error = %v", err)
		}
		if len(wave) != 1 {
			t.Fatalf("wave = %d submitters, want 1", len(wave))
		}
		if err := d.Dispatch(ctx, effects); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	if notifier.count() != 1 {
		t.Errorf("notifier called %d times across repeated advances, want 1", notifier.count())
	}
}

func TestSubmitValues(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	got, err := f.orch.SubmitValues(ctx, f.rctx, sub.ID, smID, map[string]any{"f-name": "looks good"})
	if err != nil {
		t.Fatalf("SubmitValues() error = %v", err)
	}
	if got.Values["f-name"] != "looks good" {
		t.Errorf("Values = %v", got.Values)
	}

	// Unknown field uuid is rejected, not silently stored.
	_, err = f.orch.SubmitValues(ctx, f.rctx, sub.ID, smID, map[string]any{"f-bogus": "x"})
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrValidationError {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestComplete_requiredFieldEnforced(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	_, _, err := f.orch.Complete(ctx, f.rctx, sub.ID, smID)
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrValidationError {
		t.Fatalf("Complete() without signature = %v, want VALIDATION_ERROR", err)
	}

	if _, err := f.orch.SubmitValues(ctx, f.rctx, sub.ID, smID, map[string]any{"f-sig": "sig-blob-1"}); err != nil {
		t.Fatalf("SubmitValues() error = %v", err)
	}
	if _, _, err := f.orch.Complete(ctx, f.rctx, sub.ID, smID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, _ := f.store.Get(ctx, "acct-1", sub.ID)
	if got.Submitters[0].CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}
}

func TestDecline_blocksLaterCompletion(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	if _, _, err := f.orch.Decline(ctx, f.rctx, sub.ID, smID, "not my contract"); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}

	_, _, err := f.orch.Complete(ctx, f.rctx, sub.ID, smID)
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrConflict {
		t.Errorf("Complete() after decline = %v, want CONFLICT", err)
	}
}

func TestMarkOpened_setOnce(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	first, err := f.orch.MarkOpened(ctx, f.rctx, sub.ID, smID)
	if err != nil {
		t.Fatalf("MarkOpened() error = %v", err)
	}
	if first.OpenedAt == nil {
		t.Fatal("OpenedAt not set")
	}

	second, err := f.orch.MarkOpened(ctx, f.rctx, sub.ID, smID)
	if err != nil {
		t.Fatalf("MarkOpened() repeat error = %v", err)
	}
	if !second.OpenedAt.Equal(*first.OpenedAt) {
		t.Error("OpenedAt changed on repeated open")
	}
}

func TestFillDefaults_forceRefill(t *testing.T) {
	f := newFixture(t)
	tmpl := singleRoleTemplate()
	tmpl.Fields = append(tmpl.Fields, model.FieldDefinition{
		UUID: "f-city", SubmitterUUID: "role-1", Name: "City", Type: model.FieldTypeText, DefaultValue: "Lisbon",
	})
	f.mustTemplate(t, tmpl)
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	// Signer overrides the default, a plain refill keeps it.
	if _, err := f.orch.SubmitValues(ctx, f.rctx, sub.ID, smID, map[string]any{"f-city": "Porto"}); err != nil {
		t.Fatalf("SubmitValues() error = %v", err)
	}
	sm, err := f.orch.FillDefaults(ctx, f.rctx, sub.ID, smID, false)
	if err != nil {
		t.Fatalf("FillDefaults() error = %v", err)
	}
	if sm.Values["f-city"] != "Porto" {
		t.Errorf("Values[f-city] = %v, want Porto kept", sm.Values["f-city"])
	}

	sm, err = f.orch.FillDefaults(ctx, f.rctx, sub.ID, smID, true)
	if err != nil {
		t.Fatalf("FillDefaults(force) error = %v", err)
	}
	if sm.Values["f-city"] != "Lisbon" {
		t.Errorf("Values[f-city] = %v, want Lisbon after force refill", sm.Values["f-city"])
	}
}

func TestArchive_emptiesFutureWaves(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})

	if _, err := f.orch.Archive(ctx, f.rctx, sub.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	wave, effects, err := f.orch.AdvanceWorkflow(ctx, f.rctx, sub.ID)
	if err != nil {
		t.Fatalf("AdvanceWorkflow() error = %v", err)
	}
	if len(wave) != 0 || len(effects) != 0 {
		t.Errorf("wave = %v, effects = %v, want empty after archive", wave, effects)
	}
}

func TestProcessExpirations(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	sub, _, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{ExpireAt: &past})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}

	archived, err := f.orch.ProcessExpirations(ctx)
	if err != nil {
		t.Fatalf("ProcessExpirations() error = %v", err)
	}
	if archived != 1 {
		t.Errorf("archived = %d, want 1", archived)
	}

	got, _ := f.store.Get(ctx, "acct-1", sub.ID)
	if got.ArchivedAt == nil {
		t.Error("ArchivedAt not set on expired submission")
	}
	if types := eventTypes(got.Events); len(types) == 0 || types[len(types)-1] != model.EventExpired {
		t.Errorf("events = %v, want trailing expired entry", types)
	}
}

func TestCreateSubmission_markAsSent(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, effects, err := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{MarkAsSent: true})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}
	if len(effects) != 0 {
		t.Errorf("effects = %+v, want none when marked as sent", effects)
	}
	if sub.Submitters[0].SentAt == nil {
		t.Error("SentAt not stamped")
	}

	got, _ := f.store.Get(ctx, "acct-1", sub.ID)
	if got.Submitters[0].SentAt == nil {
		t.Error("SentAt not persisted")
	}
	want := []string{model.EventCreated, model.EventSent}
	if types := eventTypes(got.Events); len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestCreateFromEmails_markAsSent(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())

	subs, effects, err := f.orch.CreateFromEmails(context.Background(), f.rctx, "tmpl-1",
		"a@example.com, b@example.com", CreateOptions{MarkAsSent: true})
	if err != nil {
		t.Fatalf("CreateFromEmails() error = %v", err)
	}
	if len(effects) != 0 {
		t.Errorf("effects = %+v, want none when marked as sent", effects)
	}
	for _, sub := range subs {
		if sub.Submitters[0].SentAt == nil {
			t.Errorf("submission %s: SentAt not stamped", sub.ID)
		}
	}
}

func TestEventTrail_fullLifecycle(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	if _, err := f.orch.MarkOpened(ctx, f.rctx, sub.ID, smID); err != nil {
		t.Fatalf("MarkOpened() error = %v", err)
	}
	if _, err := f.orch.SubmitValues(ctx, f.rctx, sub.ID, smID, map[string]any{"f-sig": "blob"}); err != nil {
		t.Fatalf("SubmitValues() error = %v", err)
	}
	if _, _, err := f.orch.Complete(ctx, f.rctx, sub.ID, smID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := f.orch.Archive(ctx, f.rctx, sub.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	got, _ := f.store.Get(ctx, "acct-1", sub.ID)
	want := []string{model.EventCreated, model.EventOpened, model.EventCompleted, model.EventArchived}
	types := eventTypes(got.Events)
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	// Submitter-level events carry the submitter id.
	for _, e := range got.Events {
		switch e.Type {
		case model.EventOpened, model.EventCompleted:
			if e.SubmitterID != smID {
				t.Errorf("%s event submitter = %q, want %q", e.Type, e.SubmitterID, smID)
			}
		case model.EventCreated, model.EventArchived:
			if e.SubmitterID != "" {
				t.Errorf("%s event submitter = %q, want empty", e.Type, e.SubmitterID)
			}
		}
	}
}

func TestEventTrail_decline(t *testing.T) {
	f := newFixture(t)
	f.mustTemplate(t, singleRoleTemplate())
	ctx := context.Background()

	sub, _, _ := f.orch.CreateSubmission(ctx, f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	smID := sub.Submitters[0].ID

	if _, _, err := f.orch.Decline(ctx, f.rctx, sub.ID, smID, "no"); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	// A repeated decline is a no-op and must not duplicate the event.
	if _, _, err := f.orch.Decline(ctx, f.rctx, sub.ID, smID, "no again"); err != nil {
		t.Fatalf("Decline() repeat error = %v", err)
	}

	got, _ := f.store.Get(ctx, "acct-1", sub.ID)
	declines := 0
	for _, e := range got.Events {
		if e.Type == model.EventDeclined {
			declines++
		}
	}
	if declines != 1 {
		t.Errorf("declined events = %d, want 1", declines)
	}
}

func eventTypes(events []model.SubmissionEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestTemplateDefaultExpiry(t *testing.T) {
	f := newFixture(t)
	tmpl := singleRoleTemplate()
	tmpl.DefaultExpireHours = 48
	f.mustTemplate(t, tmpl)

	sub, _, err := f.orch.CreateSubmission(context.Background(), f.rctx, "tmpl-1",
		[]SignerInput{{Email: "a@example.com"}}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSubmission() error = %v", err)
	}
	if sub.ExpireAt == nil {
		t.Fatal("ExpireAt not defaulted from template")
	}
	want := sub.CreatedAt.Add(48 * time.Hour)
	if !sub.ExpireAt.Equal(want) {
		t.Errorf("ExpireAt = %v, want %v", sub.ExpireAt, want)
	}
}
