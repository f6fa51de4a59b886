package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/clock"
	"github.com/rentledger/rentledger/internal/identity"
	"github.com/rentledger/rentledger/internal/lease/handler"
	"github.com/rentledger/rentledger/internal/lease/model"
	"github.com/rentledger/rentledger/internal/lease/repository"
	"github.com/rentledger/rentledger/internal/lease/service"
	"github.com/rentledger/rentledger/internal/transfer"
	"go.uber.org/zap"
)

const (
	t0       = int64(1_700_000_000)
	landlord = "0xLandlord"
	tenant   = "0xTenant"
)

type testAPI struct {
	router *gin.Engine
	book   *transfer.Book
	clock  *clock.Manual
}

func setupRouter(t *testing.T, tokens *identity.TokenIssuer) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	book := transfer.NewBook()
	clk := clock.NewManual(t0)
	ledger := service.NewLedger(repository.NewMemoryStore(), book, clk, zap.NewNop())
	ledger.SetMetricsRecorder(handler.LedgerMetrics{})

	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	v1 := r.Group("/api/v1")
	handler.NewAgreementHandler(ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewEventsHandler(ledger, zap.NewNop()).Register(v1)
	r.GET("/metrics", handler.MetricsHandler())
	return &testAPI{router: r, book: book, clock: clk}
}

func (a *testAPI) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(identity.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if got := decode(t, w)["code"]; got != code {
		t.Errorf("code: got %v, want %s", got, code)
	}
}

func standardBody() map[string]any {
	return map[string]any{
		"tenant":           tenant,
		"monthly_rent":     100,
		"security_deposit": 500,
		"duration_days":    30,
		"value":            500,
	}
}

func (a *testAPI) create(t *testing.T) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/agreements", landlord, standardBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAgreement_201(t *testing.T) {
	api := setupRouter(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/agreements", landlord, standardBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if id := decode(t, w)["id"]; id != float64(0) {
		t.Errorf("expected first id 0, got %v", id)
	}

	w = api.do(t, http.MethodGet, "/api/v1/agreements/0", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Agreement model.Agreement `json:"agreement"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	a := resp.Agreement
	if a.Landlord != landlord || a.Tenant != tenant || !a.Active {
		t.Errorf("unexpected agreement: %+v", a)
	}
	if a.StartTime != t0 || a.EndTime != t0+30*model.Day {
		t.Errorf("unexpected timing: start=%d end=%d", a.StartTime, a.EndTime)
	}
}

func TestCreateAgreement_missingCaller(t *testing.T) {
	api := setupRouter(t, nil)
	w := api.do(t, http.MethodPost, "/api/v1/agreements", "", standardBody())
	expectError(t, w, http.StatusUnauthorized, model.CodeUnauthorized)
}

func TestCreateAgreement_invalidArgument(t *testing.T) {
	api := setupRouter(t, nil)

	body := standardBody()
	body["value"] = 499
	w := api.do(t, http.MethodPost, "/api/v1/agreements", landlord, body)
	expectError(t, w, http.StatusBadRequest, model.CodeInvalidArgument)

	body = standardBody()
	delete(body, "tenant")
	w = api.do(t, http.MethodPost, "/api/v1/agreements", landlord, body)
	expectError(t, w, http.StatusBadRequest, model.CodeInvalidArgument)
}

func TestGetAgreement_errors(t *testing.T) {
	api := setupRouter(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/agreements/7", "", nil)
	expectError(t, w, http.StatusNotFound, model.CodeNotFound)

	w = api.do(t, http.MethodGet, "/api/v1/agreements/not-a-number", "", nil)
	expectError(t, w, http.StatusBadRequest, model.CodeInvalidArgument)
}

func TestPayRent_flow(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", landlord, map[string]any{"value": 100})
	expectError(t, w, http.StatusForbidden, model.CodeUnauthorized)

	w = api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 90})
	expectError(t, w, http.StatusBadRequest, model.CodeInvalidArgument)

	w = api.do(t, http.MethodGet, "/api/v1/agreements/0/rent-due", "", nil)
	if decode(t, w)["due"] != true {
		t.Errorf("expected rent due before first payment")
	}

	w = api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 100})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := api.book.Balance(landlord); got != 100 {
		t.Errorf("landlord balance: got %d, want 100", got)
	}

	w = api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 100})
	expectError(t, w, http.StatusConflict, model.CodeAlreadyPaid)

	w = api.do(t, http.MethodGet, "/api/v1/agreements/0/rent-due", "", nil)
	if decode(t, w)["due"] != false {
		t.Errorf("expected rent not due after payment")
	}
}

func TestPayRent_expired(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)
	api.clock.Advance(31 * 24 * time.Hour)

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 100})
	expectError(t, w, http.StatusConflict, model.CodeAgreementExpired)
}

func TestPayRent_transferFailed(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)
	api.book.FailNext(errors.New("payout rail down"))

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 100})
	expectError(t, w, http.StatusBadGateway, model.CodeTransferFailed)

	w = api.do(t, http.MethodGet, "/api/v1/agreements/0/rent-due", "", nil)
	if decode(t, w)["due"] != true {
		t.Errorf("failed payment must leave rent due")
	}
}

func TestTerminate_tenantEarlyForfeits(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/terminate", tenant, map[string]any{"return_deposit": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["deposit_returned_to_tenant"] != false {
		t.Errorf("early tenant termination must not refund the deposit")
	}
	if got := api.book.Balance(landlord); got != 500 {
		t.Errorf("landlord balance: got %d, want 500", got)
	}

	w = api.do(t, http.MethodPost, "/api/v1/agreements/0/terminate", landlord, nil)
	expectError(t, w, http.StatusConflict, model.CodeInvalidState)
}

func TestTerminate_emptyBody(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/terminate", landlord, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["deposit_returned_to_tenant"] != false {
		t.Errorf("empty body must mean no refund")
	}
}

func TestTerminate_stranger(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)

	w := api.do(t, http.MethodPost, "/api/v1/agreements/0/terminate", "0xStranger", map[string]any{"return_deposit": true})
	expectError(t, w, http.StatusForbidden, model.CodeUnauthorized)
}

func TestPartyIndexes(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)
	api.create(t)

	w := api.do(t, http.MethodGet, "/api/v1/parties/"+landlord+"/landlord", "", nil)
	ids, _ := decode(t, w)["agreements"].([]any)
	if len(ids) != 2 || ids[0] != float64(0) || ids[1] != float64(1) {
		t.Errorf("landlord agreements: got %v", ids)
	}

	w = api.do(t, http.MethodGet, "/api/v1/parties/"+tenant+"/landlord", "", nil)
	ids, ok := decode(t, w)["agreements"].([]any)
	if !ok || len(ids) != 0 {
		t.Errorf("expected empty list for a party that is never landlord, got %v", decode(t, w)["agreements"])
	}

	w = api.do(t, http.MethodGet, "/api/v1/parties/"+tenant+"/tenant", "", nil)
	ids, _ = decode(t, w)["agreements"].([]any)
	if len(ids) != 2 {
		t.Errorf("tenant agreements: got %v", ids)
	}
}

func TestEvents_listAndVerify(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)
	api.do(t, http.MethodPost, "/api/v1/agreements/0/rent", tenant, map[string]any{"value": 100})

	w := api.do(t, http.MethodGet, "/api/v1/events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	events, _ := resp["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	last := events[1].(map[string]any)
	if last["type"] != string(model.EventRentPaid) || resp["root"] != last["hash"] {
		t.Errorf("unexpected tail: %v root=%v", last, resp["root"])
	}

	w = api.do(t, http.MethodGet, "/api/v1/events?from=1&limit=1", "", nil)
	events, _ = decode(t, w)["events"].([]any)
	if len(events) != 1 {
		t.Errorf("expected 1 paged event, got %d", len(events))
	}

	w = api.do(t, http.MethodGet, "/api/v1/events?limit=0", "", nil)
	expectError(t, w, http.StatusBadRequest, model.CodeInvalidArgument)

	w = api.do(t, http.MethodGet, "/api/v1/events/verify", "", nil)
	if decode(t, w)["valid"] != true {
		t.Errorf("expected valid chain: %s", w.Body.String())
	}
}

func TestBearerTokens(t *testing.T) {
	tokens, err := identity.NewTokenIssuer("0123456789abcdef0123456789abcdef", "ledger.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	api := setupRouter(t, tokens)

	// The dev header is ignored once tokens are configured.
	w := api.do(t, http.MethodPost, "/api/v1/agreements", landlord, standardBody())
	expectError(t, w, http.StatusUnauthorized, model.CodeUnauthorized)

	token, _ := tokens.Issue(landlord)
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(standardBody())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agreements", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		model.ErrInvalidArgument:  http.StatusBadRequest,
		model.ErrNotFound:         http.StatusNotFound,
		model.ErrUnauthorized:     http.StatusForbidden,
		model.ErrInvalidState:     http.StatusConflict,
		model.ErrAgreementExpired: http.StatusConflict,
		model.ErrAlreadyPaid:      http.StatusConflict,
		model.ErrTransferFailed:   http.StatusBadGateway,
		errors.New("disk on fire"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := handler.StatusFor(err); got != want {
			t.Errorf("StatusFor(%v): got %d, want %d", err, got, want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := setupRouter(t, nil)
	api.create(t)

	w := api.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("rentledger_operations_total")) {
		t.Error("expected rentledger_operations_total in metrics output")
	}
}
