package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/countersignhq/countersign/model"
)

func testSubmission(id, accountID string) model.Submission {
	now := time.Now().UTC()
	return model.Submission{
		ID:        id,
		AccountID: accountID,
		Source:    model.SourceAPI,
		TemplateSubmitters: []model.SignerRole{
			{UUID: "role-1", Name: "Signer"},
		},
		Submitters: []model.Submitter{
			{ID: id + "-s1", SubmissionID: id, UUID: "role-1", AccountID: accountID, Values: map[string]any{}, Version: 1},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	sub := testSubmission("sub-1", "acct-1")
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, sub); err == nil {
		t.Error("Create() duplicate succeeded, want conflict")
	}

	got, err := store.Get(ctx, "acct-1", "sub-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "sub-1" || len(got.Submitters) != 1 {
		t.Errorf("Get() = %+v", got)
	}

	// Account isolation.
	if _, err := store.Get(ctx, "acct-2", "sub-1"); err == nil {
		t.Error("Get() across accounts succeeded, want not found")
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	if err := store.Create(ctx, testSubmission("sub-1", "acct-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := store.Get(ctx, "acct-1", "sub-1")
	got.Submitters[0].Values["f1"] = "mutated"

	again, _ := store.Get(ctx, "acct-1", "sub-1")
	if _, ok := again.Submitters[0].Values["f1"]; ok {
		t.Error("mutation through a returned copy leaked into the store")
	}
}

func TestMemoryStore_UpdateOptimisticLock(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	sub := testSubmission("sub-1", "acct-1")
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC()
	sub.ArchivedAt = &now
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// Stale version.
	if err := store.Update(ctx, sub); err == nil {
		t.Error("Update() with stale version succeeded, want conflict")
	} else if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrConflict {
		t.Errorf("Update() error = %v, want CONFLICT", err)
	}
}

func TestMemoryStore_UpdateSubmitterOptimisticLock(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	sub := testSubmission("sub-1", "acct-1")
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sm := sub.Submitters[0]
	sm.Values["f1"] = "x"
	if err := store.UpdateSubmitter(ctx, sm); err != nil {
		t.Fatalf("UpdateSubmitter() error = %v", err)
	}

	// Same stale version again.
	if err := store.UpdateSubmitter(ctx, sm); err == nil {
		t.Error("UpdateSubmitter() with stale version succeeded, want conflict")
	}

	got, _ := store.Get(ctx, "acct-1", "sub-1")
	if got.Submitters[0].Values["f1"] != "x" {
		t.Errorf("Values[f1] = %v, want x", got.Submitters[0].Values["f1"])
	}
	if got.Submitters[0].Version != 2 {
		t.Errorf("Version = %d, want 2", got.Submitters[0].Version)
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	a := testSubmission("sub-a", "acct-1")
	a.TemplateID = "tmpl-1"
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)
	b := testSubmission("sub-b", "acct-1")
	b.TemplateID = "tmpl-2"
	other := testSubmission("sub-c", "acct-2")

	for _, sub := range []model.Submission{a, b, other} {
		if err := store.Create(ctx, sub); err != nil {
			t.Fatalf("Create(%s) error = %v", sub.ID, err)
		}
	}

	got, err := store.List(ctx, "acct-1", ListFilters{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "sub-b" || got[1].ID != "sub-a" {
		t.Errorf("List() = %v, want sub-b then sub-a", got)
	}

	got, err = store.List(ctx, "acct-1", ListFilters{TemplateID: "tmpl-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "sub-a" {
		t.Errorf("List(tmpl-1) = %v, want only sub-a", got)
	}
}

func TestMemoryStore_FindExpired(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := testSubmission("sub-expired", "acct-1")
	expired.ExpireAt = &past
	live := testSubmission("sub-live", "acct-1")
	live.ExpireAt = &future
	archived := testSubmission("sub-archived", "acct-1")
	archived.ExpireAt = &past
	archived.ArchivedAt = &past

	for _, sub := range []model.Submission{expired, live, archived} {
		if err := store.Create(ctx, sub); err != nil {
			t.Fatalf("Create(%s) error = %v", sub.ID, err)
		}
	}

	got, err := store.FindExpired(ctx, now)
	if err != nil {
		t.Fatalf("FindExpired() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "sub-expired" {
		t.Errorf("FindExpired() = %v, want only sub-expired", got)
	}
}

func TestMemoryStore_Templates(t *testing.T) {
	store := NewMemorySubmissionStore()
	ctx := context.Background()

	tmpl := model.Template{ID: "tmpl-1", AccountID: "acct-1", Name: "NDA"}
	if err := store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if err := store.CreateTemplate(ctx, tmpl); err == nil {
		t.Error("CreateTemplate() duplicate succeeded, want conflict")
	}

	got, err := store.GetTemplate(ctx, "acct-1", "tmpl-1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.Name != "NDA" {
		t.Errorf("GetTemplate().Name = %q, want NDA", got.Name)
	}
	if _, err := store.GetTemplate(ctx, "acct-2", "tmpl-1"); err == nil {
		t.Error("GetTemplate() across accounts succeeded, want not found")
	}
}
