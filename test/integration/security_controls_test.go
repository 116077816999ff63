package integration

import (
	"net/http"
	"testing"

	"github.com/countersignhq/countersign/model"
)

func TestSecurity_missingToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/submissions", "")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestSecurity_expiredToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/submissions", h.GenerateExpiredToken(OwnerClaims()))
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestSecurity_malformedToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/submissions", "not.a.jwt")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestSecurity_wrongAudience(t *testing.T) {
	h := NewTestHarness(t)

	claims := OwnerClaims()
	claims.Extra = map[string]any{"aud": "some-other-service"}
	resp := h.GET("/submissions", h.GenerateToken(claims))
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestSecurity_accountIsolation(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedTemplate(NDATemplate("acme-corp"))
	ownerToken := h.GenerateToken(OwnerClaims())

	var sub model.Submission
	resp := h.POST("/submissions", map[string]any{
		"template_id": "tmpl-nda",
		"submitters":  []map[string]any{{"email": "ada@example.com"}},
	}, ownerToken)
	h.AssertJSON(t, resp, http.StatusCreated, &sub)

	// A user from another account gets a 404, not a 403, so the submission's
	// existence is not leaked.
	resp = h.GET("/submissions/"+sub.ID, h.GenerateToken(OutsiderClaims()))
	h.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// And their listing stays empty.
	var body struct {
		Submissions []model.Submission `json:"submissions"`
	}
	resp = h.GET("/submissions", h.GenerateToken(OutsiderClaims()))
	h.AssertJSON(t, resp, http.StatusOK, &body)
	if len(body.Submissions) != 0 {
		t.Errorf("outsider sees %d submissions, want 0", len(body.Submissions))
	}
}

func TestSecurity_sameAccountAccess(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedTemplate(NDATemplate("acme-corp"))

	var sub model.Submission
	resp := h.POST("/submissions", map[string]any{
		"template_id": "tmpl-nda",
		"submitters":  []map[string]any{{"email": "ada@example.com"}},
	}, h.GenerateToken(OwnerClaims()))
	h.AssertJSON(t, resp, http.StatusCreated, &sub)

	// Another member of the same account can read it.
	resp = h.GET("/submissions/"+sub.ID, h.GenerateToken(AgentClaims()))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSecurity_responseHeaders(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health", "")
	defer resp.Body.Close()
	h.AssertStatus(t, resp, http.StatusOK)

	checks := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, want := range checks {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id header not set")
	}
}

func TestSecurity_corsPreflight(t *testing.T) {
	h := NewTestHarness(t)

	req, err := http.NewRequest("OPTIONS", h.BaseURL()+"/submissions", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	// Disallowed origins get no CORS headers.
	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin for disallowed origin = %q", got)
	}
}

func TestSecurity_publicEndpointsBypassAuth(t *testing.T) {
	h := NewTestHarness(t)

	for _, path := range []string{"/health", "/ready"} {
		resp := h.GET(path, "")
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}
