package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func capture(t *testing.T, req *http.Request) (owner, tab string, resp *http.Response) {
	t.Helper()
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		owner = OwnerIDFromContext(r.Context())
		tab = TabIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return owner, tab, w.Result()
}

func TestMiddlewareIssuesOwnerCookie(t *testing.T) {
	owner, tab, resp := capture(t, httptest.NewRequest(http.MethodGet, "/api/explorations", nil))

	if !IsValidOwnerID(owner) {
		t.Fatalf("expected generated owner id, got %q", owner)
	}
	if tab != DefaultTabIDValue {
		t.Errorf("expected default tab, got %q", tab)
	}
	cookies := resp.Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != owner {
		t.Errorf("expected owner cookie, got %+v", cookies)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	existing := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	req.Header.Set(TabHeaderName, "tab-7")

	owner, tab, _ := capture(t, req)

	if owner != existing {
		t.Errorf("expected %q, got %q", existing, owner)
	}
	if tab != "tab-7" {
		t.Errorf("expected tab-7, got %q", tab)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?tab_id=bad%20tab", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})

	owner, tab, _ := capture(t, req)

	if owner == "admin" || !IsValidOwnerID(owner) {
		t.Errorf("forged cookie accepted: %q", owner)
	}
	if tab != DefaultTabIDValue {
		t.Errorf("expected invalid tab to fall back, got %q", tab)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Errorf("expected 10.0.0.7, got %q", got)
	}
}
