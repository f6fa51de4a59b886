package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/identity"
	"github.com/rentledger/rentledger/internal/lease/model"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenIssuer(t *testing.T, ttl time.Duration) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, "https://ledger.test", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer("short", "iss", time.Hour); err == nil {
		t.Error("expected error for a short secret")
	}
}

func TestTokenIssuer_roundTrip(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)

	token, err := ti.Issue("0xTenant")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Address() != "0xTenant" {
		t.Errorf("Address: got %q, want 0xTenant", claims.Address())
	}
}

func TestTokenIssuer_Issue_emptyAddress(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	if _, err := ti.Issue("  "); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Nanosecond)
	token, err := ti.Issue("0xTenant")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	other, _ := identity.NewTokenIssuer("ffffffffffffffffffffffffffffffff", "https://ledger.test", time.Hour)

	token, _ := other.Issue("0xTenant")
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for a token signed with another secret")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	other, _ := identity.NewTokenIssuer(testSecret, "https://elsewhere.test", time.Hour)

	token, _ := other.Issue("0xTenant")
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for a token from another issuer")
	}
}

func callerRouter(tokens *identity.TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", identity.RequireCaller(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, string(identity.CallerFromCtx(c)))
	})
	return r
}

func TestRequireCaller_bearer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	r := callerRouter(ti)
	token, _ := ti.Issue("0xLandlord")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "0xLandlord" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestRequireCaller_missingToken(t *testing.T) {
	r := callerRouter(newTestTokenIssuer(t, time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(identity.CallerHeader, "0xLandlord") // ignored when tokens are configured
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireCaller_openMode(t *testing.T) {
	r := callerRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(identity.CallerHeader, " 0xTenant ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "0xTenant" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}
}

func TestCallerFromCtx_absent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := identity.CallerFromCtx(c); got != model.Address("") {
		t.Errorf("expected zero address, got %q", got)
	}
}
