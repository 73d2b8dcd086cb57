package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-session-secret-32bytes-long!")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Secret: testSecret, MaxAge: 3600})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func TestNewManager_RequiresSecretAndMaxAge(t *testing.T) {
	if _, err := NewManager(Config{MaxAge: 10}); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewManager(Config{Secret: testSecret}); err == nil {
		t.Error("expected error for zero max age")
	}
}

func TestManager_SaveThenLoad(t *testing.T) {
	m := newTestManager(t)

	w := httptest.NewRecorder()
	if err := m.Save(w, "alice@example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cookie := findCookie(w.Result().Cookies(), CookieName)
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want %v", cookie.SameSite, http.SameSiteLaxMode)
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}

	s, ok := m.Load(requestWith(cookie))
	if !ok {
		t.Fatal("expected session to load")
	}
	if s.User != "alice@example.com" {
		t.Errorf("User = %q, want %q", s.User, "alice@example.com")
	}
}

func TestManager_Save_EmptyUser(t *testing.T) {
	m := newTestManager(t)
	if err := m.Save(httptest.NewRecorder(), ""); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestManager_Load_MissingCookie(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.Load(requestWith(nil)); ok {
		t.Fatal("expected no session without cookie")
	}
}

func TestManager_Load_TamperedCookie(t *testing.T) {
	m := newTestManager(t)

	w := httptest.NewRecorder()
	if err := m.Save(w, "alice@example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cookie := findCookie(w.Result().Cookies(), CookieName)
	cookie.Value = cookie.Value[:len(cookie.Value)-2] + "xx"

	if _, ok := m.Load(requestWith(cookie)); ok {
		t.Fatal("expected tampered cookie to be rejected")
	}
}

func TestManager_Load_WrongSecret(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(Config{Secret: []byte("another-secret-that-is-32-bytes!!"), MaxAge: 3600})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	w := httptest.NewRecorder()
	if err := other.Save(w, "mallory@example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, ok := m.Load(requestWith(findCookie(w.Result().Cookies(), CookieName))); ok {
		t.Fatal("expected cookie signed with another secret to be rejected")
	}
}

func TestManager_Load_Expired(t *testing.T) {
	m := newTestManager(t)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	w := httptest.NewRecorder()
	if err := m.Save(w, "alice@example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cookie := findCookie(w.Result().Cookies(), CookieName)

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, ok := m.Load(requestWith(cookie)); ok {
		t.Fatal("expected expired session to be rejected")
	}
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager(t)

	w := httptest.NewRecorder()
	m.Clear(w)

	cookie := findCookie(w.Result().Cookies(), CookieName)
	if cookie == nil {
		t.Fatal("expected clearing cookie")
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("MaxAge = %d, want negative", cookie.MaxAge)
	}
	if cookie.Value != "" {
		t.Errorf("Value = %q, want empty", cookie.Value)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), &Session{User: "bob@example.com"})

	user, ok := UserFromContext(ctx)
	if !ok || user != "bob@example.com" {
		t.Errorf("UserFromContext = (%q, %v), want (bob@example.com, true)", user, ok)
	}
}

func TestContext_Absent(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected nil session for empty context")
	}
	if _, ok := UserFromContext(NewContext(context.Background(), nil)); ok {
		t.Error("expected no user for nil session")
	}
	if _, ok := UserFromContext(NewContext(context.Background(), &Session{})); ok {
		t.Error("expected no user for empty session")
	}
}
