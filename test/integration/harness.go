// Package integration provides a reusable test harness for end-to-end
// integration testing of the signing server. It starts a full HTTP server
// with in-memory stores, a recording notifier, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/assets"
	"github.com/countersignhq/countersign/internal/config"
	"github.com/countersignhq/countersign/internal/defaults"
	"github.com/countersignhq/countersign/internal/email"
	"github.com/countersignhq/countersign/internal/identity"
	"github.com/countersignhq/countersign/internal/routing"
	"github.com/countersignhq/countersign/internal/schema"
	"github.com/countersignhq/countersign/internal/transport"
	"github.com/countersignhq/countersign/internal/workflow"
	"github.com/countersignhq/countersign/model"
)

// TestHarness encapsulates a fully wired server instance for integration
// testing: real router, real JWT verification against a test JWKS endpoint,
// and in-memory persistence.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for seeding and advanced assertions.
	Store        *workflow.MemorySubmissionStore
	Lookup       *identity.MemoryLookup
	Ledger       *workflow.MemoryDispatchLedger
	Notifier     *RecordingNotifier
	Orchestrator *workflow.Orchestrator

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	clock          func() time.Time
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithClock overrides the orchestrator's time source.
func WithClock(now func() time.Time) HarnessOption {
	return func(c *harnessConfig) {
		c.clock = now
	}
}

// RecordingNotifier captures every dispatched wave so tests can assert on
// delivery order and recipients.
type RecordingNotifier struct {
	mu    sync.Mutex
	waves [][]model.Submitter

	// FailNext makes the next Notify call return an error.
	FailNext error
}

// Notify implements notify.Notifier.
func (n *RecordingNotifier) Notify(_ context.Context, wave []model.Submitter, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailNext != nil {
		err := n.FailNext
		n.FailNext = nil
		return err
	}
	copied := make([]model.Submitter, len(wave))
	copy(copied, wave)
	n.waves = append(n.waves, copied)
	return nil
}

// Waves returns a snapshot of all recorded waves.
func (n *RecordingNotifier) Waves() [][]model.Submitter {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]model.Submitter, len(n.waves))
	copy(out, n.waves)
	return out
}

// Emails flattens the recorded waves into the ordered list of recipient
// addresses.
func (n *RecordingNotifier) Emails() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, wave := range n.waves {
		for _, sm := range wave {
			out = append(out, sm.Email)
		}
	}
	return out
}

// NewTestHarness creates and starts a full server instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	logger := zap.NewNop()

	h := &TestHarness{
		t:        t,
		Store:    workflow.NewMemorySubmissionStore(),
		Lookup:   identity.NewMemoryLookup(),
		Ledger:   workflow.NewMemoryDispatchLedger(),
		Notifier: &RecordingNotifier{},
	}

	var orchOpts []workflow.OrchestratorOption
	if hc.clock != nil {
		orchOpts = append(orchOpts, workflow.WithClock(hc.clock))
	}
	h.Orchestrator = workflow.NewOrchestrator(
		h.Store,
		h.Lookup,
		email.NewNormalizer(email.NewStaticSuggester(), logger),
		schema.NewEvaluator(logger),
		defaults.NewResolver(assets.NewMemoryStore(), logger),
		routing.NewRouter(logger),
		logger,
		orchOpts...,
	)
	dispatcher := workflow.NewDispatcher(h.Store, h.Ledger, h.Notifier, logger)

	h.issuer = newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = h.issuer.Issuer()
	cfg.Identity.Audience = h.issuer.Audience()
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg = cfg

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: h.Orchestrator,
		Dispatcher:   dispatcher,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// SeedTemplate stores a template for submissions to be created from.
func (h *TestHarness) SeedTemplate(tmpl model.Template) {
	h.t.Helper()
	if err := h.Store.CreateTemplate(context.Background(), tmpl); err != nil {
		h.t.Fatalf("seed template: %v", err)
	}
}

// SeedUser registers a user for default-value resolution.
func (h *TestHarness) SeedUser(user model.User) {
	h.Lookup.Put(user)
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// OwnerClaims returns TestClaims for the account owner who creates
// submissions.
func OwnerClaims() TestClaims {
	return TestClaims{
		UserID:    "user-owner",
		AccountID: "acme-corp",
		Email:     "owner@acme.example.com",
		Roles:     []string{"admin"},
	}
}

// AgentClaims returns TestClaims for a non-admin member of the same account.
func AgentClaims() TestClaims {
	return TestClaims{
		UserID:    "user-agent",
		AccountID: "acme-corp",
		Email:     "agent@acme.example.com",
		Roles:     []string{"member"},
	}
}

// OutsiderClaims returns TestClaims for a user in a different account.
func OutsiderClaims() TestClaims {
	return TestClaims{
		UserID:    "user-outsider",
		AccountID: "rival-corp",
		Email:     "outsider@rival.example.com",
		Roles:     []string{"admin"},
	}
}

// --- Fixtures ---

// NDATemplate returns a single-role template with a text and a required
// signature field.
func NDATemplate(accountID string) model.Template {
	return model.Template{
		ID:        "tmpl-nda",
		AccountID: accountID,
		Name:      "Mutual NDA",
		Submitters: []model.SignerRole{
			{UUID: "role-signer", Name: "Signer"},
		},
		Fields: []model.FieldDefinition{
			{UUID: "f-comment", SubmitterUUID: "role-signer", Name: "Comment", Type: model.FieldTypeText},
			{UUID: "f-signature", SubmitterUUID: "role-signer", Name: "Signature", Type: model.FieldTypeSignature, Required: true},
		},
	}
}

// ContractTemplate returns a two-role template with preserved signing order:
// the tenant signs first, then the landlord.
func ContractTemplate(accountID string) model.Template {
	return model.Template{
		ID:              "tmpl-contract",
		AccountID:       accountID,
		Name:            "Lease Contract",
		SubmittersOrder: model.SubmittersOrderPreserved,
		Submitters: []model.SignerRole{
			{UUID: "role-tenant", Name: "Tenant"},
			{UUID: "role-landlord", Name: "Landlord"},
		},
		Fields: []model.FieldDefinition{
			{UUID: "f-tenant-sig", SubmitterUUID: "role-tenant", Name: "Tenant Signature", Type: model.FieldTypeSignature, Required: true},
			{UUID: "f-landlord-sig", SubmitterUUID: "role-landlord", Name: "Landlord Signature", Type: model.FieldTypeSignature, Required: true},
		},
	}
}
