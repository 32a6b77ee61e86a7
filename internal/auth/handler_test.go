// handler_test.go

// unit tests for Register, Login, CurrentUser, Logout, LogoutAll, and CheckHealth handlers.

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/cache"
	"github.com/MGallo-Code/mangatracker/internal/session"
	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/MGallo-Code/mangatracker/internal/testutil"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Helper Functions ---

// testEnv bundles an AuthHandler with the mocks behind it.
type testEnv struct {
	h  *AuthHandler
	ms *testutil.MockStore
	ss *testutil.MockSessionStore
	rl *testutil.MockRateLimiter
	sm *session.Manager
}

// newTestEnv returns an AuthHandler wired to fresh stateful mocks.
func newTestEnv() *testEnv {
	ms := testutil.NewMockStore()
	ss := testutil.NewMockSessionStore()
	rl := &testutil.MockRateLimiter{}
	sm := session.NewManager(ss, time.Hour, false)
	return &testEnv{
		h: &AuthHandler{
			PS:    ms,
			RS:    ss,
			SM:    sm,
			RL:    rl,
			Users: cache.NewUsers(cache.Config{}),
		},
		ms: ms,
		ss: ss,
		rl: rl,
		sm: sm,
	}
}

// serve runs next behind the session middleware, like the router does.
func (e *testEnv) serve(next http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.sm.Middleware(next).ServeHTTP(w, r)
	return w
}

// loggedInRequest builds a request carrying a stored session for userID.
func (e *testEnv) loggedInRequest(method, target string, userID int64) *http.Request {
	e.ss.Put("sid-logged-in", store.CachedSession{UserID: userID})
	r := httptest.NewRequest(method, target, nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sid-logged-in"})
	return r
}

// seedUser adds a user with id, email and password to the mock store.
func (e *testEnv) seedUser(id int64, email, password string) *store.User {
	return e.ms.AddUser(&store.User{ID: id, Username: fmt.Sprintf("user%d", id), Email: email}, password)
}

// findCookie returns the named response cookie or nil.
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// authCookieFrom returns the decoded auth cookie value set on w, failing if absent.
func authCookieFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	c := findCookie(w, AuthCookieName)
	if c == nil || c.MaxAge < 0 {
		t.Fatal("expected auth cookie to be set")
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		t.Fatalf("unescaping auth cookie: %v", err)
	}
	return v
}

// addAuthCookie adds an escaped auth cookie to r, as a browser would send it back.
func addAuthCookie(r *http.Request, value string) {
	r.AddCookie(&http.Cookie{Name: AuthCookieName, Value: url.QueryEscape(value)})
}

// assertBadRequest checks response is 400 JSON with expected message.
func assertBadRequest(t *testing.T, w *httptest.ResponseRecorder, expectedMsg string) {
	t.Helper()
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: expected 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	body, _ := io.ReadAll(w.Body)
	expected := fmt.Sprintf(`{"message":"%s"}`, expectedMsg)
	if string(body) != expected {
		t.Errorf("body: expected %q, got %q", expected, string(body))
	}
}

// assertInternalServerError checks response is 500 JSON with generic error.
func assertInternalServerError(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: expected 500, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != `{"message":"internal server error"}` {
		t.Errorf("body: expected internal server error message, got %q", string(body))
	}
}

// assertUnauthorized checks response is 401 JSON with expected message.
func assertUnauthorized(t *testing.T, w *httptest.ResponseRecorder, expectedMsg string) {
	t.Helper()
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	expected := fmt.Sprintf(`{"message":"%s"}`, expectedMsg)
	if string(body) != expected {
		t.Errorf("body: expected %q, got %q", expected, string(body))
	}
}

// assertClearedAuthCookie checks the auth cookie was expired with MaxAge=-1.
func assertClearedAuthCookie(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	c := findCookie(w, AuthCookieName)
	if c == nil {
		t.Fatal("expected auth cookie to be cleared, none set")
	}
	if c.MaxAge != -1 {
		t.Errorf("auth cookie MaxAge: expected -1, got %d", c.MaxAge)
	}
	if c.Value != "" {
		t.Errorf("auth cookie value: expected empty, got %q", c.Value)
	}
}

// decodeUser parses a CachedUser response body.
func decodeUser(t *testing.T, w *httptest.ResponseRecorder) store.CachedUser {
	t.Helper()
	var u store.CachedUser
	if err := json.NewDecoder(w.Body).Decode(&u); err != nil {
		t.Fatalf("decoding user body: %v", err)
	}
	return u
}

// --- Register ---

func registerReq(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(body))
}

func TestRegister(t *testing.T) {
	t.Run("valid input creates user with bcrypt hash", func(t *testing.T) {
		e := newTestEnv()
		w := e.serve(http.HandlerFunc(e.h.Register),
			registerReq(`{"username":"reader","email":"Reader@Example.com","password":"correcthorse"}`))

		if w.Code != http.StatusCreated {
			t.Fatalf("status: expected 201, got %d", w.Code)
		}
		if e.ms.Calls("CreateUser") != 1 {
			t.Fatalf("expected 1 CreateUser call, got %d", e.ms.Calls("CreateUser"))
		}
		var created *store.User
		for _, u := range e.ms.Users {
			created = u
		}
		if created.Email != "reader@example.com" {
			t.Errorf("email: expected lowercased, got %q", created.Email)
		}
		if created.UUID.IsNil() {
			t.Error("expected a generated user uuid")
		}
	})

	t.Run("duplicate email still returns 201", func(t *testing.T) {
		e := newTestEnv()
		e.ms.CreateUserErr = &pgconn.PgError{Code: "23505"}
		w := e.serve(http.HandlerFunc(e.h.Register),
			registerReq(`{"username":"reader","email":"reader@example.com","password":"correcthorse"}`))

		if w.Code != http.StatusCreated {
			t.Errorf("status: expected 201, got %d", w.Code)
		}
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		e := newTestEnv()
		e.ms.CreateUserErr = errors.New("connection refused")
		w := e.serve(http.HandlerFunc(e.h.Register),
			registerReq(`{"username":"reader","email":"reader@example.com","password":"correcthorse"}`))

		assertInternalServerError(t, w)
	})

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"malformed json", `{"username":`, "error decoding request body"},
		{"short username", `{"username":"ab","email":"reader@example.com","password":"correcthorse"}`, "Username too short!"},
		{"bad username chars", `{"username":"a b c","email":"reader@example.com","password":"correcthorse"}`, "Username contains invalid characters"},
		{"missing email", `{"username":"reader","password":"correcthorse"}`, "No email provided"},
		{"short password", `{"username":"reader","email":"reader@example.com","password":"short"}`, "Password too short!"},
		{"password over 72 bytes", `{"username":"reader","email":"reader@example.com","password":"` + strings.Repeat("a", 73) + `"}`, "Password too long!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv()
			w := e.serve(http.HandlerFunc(e.h.Register), registerReq(tt.body))

			assertBadRequest(t, w, tt.msg)
			if e.ms.Calls("CreateUser") != 0 {
				t.Error("store should not be called on invalid input")
			}
		})
	}

	t.Run("password policy enforced", func(t *testing.T) {
		e := newTestEnv()
		e.h.PasswordPolicy = PasswordPolicy{RequireDigit: true}
		w := e.serve(http.HandlerFunc(e.h.Register),
			registerReq(`{"username":"reader","email":"reader@example.com","password":"correcthorse"}`))

		assertBadRequest(t, w, "Password must contain at least one digit")
	})
}

// --- Login ---

func loginReq(email, password string, rememberMe bool) *http.Request {
	body := fmt.Sprintf(`{"email":%q,"password":%q,"rememberme":%t}`, email, password, rememberMe)
	return httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
}

func TestLogin(t *testing.T) {
	t.Run("valid credentials return user and persist session", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("Reader@example.com", "correcthorse", false))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		if u := decodeUser(t, w); u.UserID != 42 {
			t.Errorf("user_id: expected 42, got %d", u.UserID)
		}
		sid := findCookie(w, session.CookieName)
		if sid == nil {
			t.Fatal("expected session cookie")
		}
		if s, ok := e.ss.Get(sid.Value); !ok || s.UserID != 42 {
			t.Errorf("stored session: expected user 42, got %+v (found=%v)", s, ok)
		}
		if findCookie(w, AuthCookieName) != nil {
			t.Error("auth cookie should not be set without remember-me")
		}
		if _, ok := e.h.Users.Get(42); !ok {
			t.Error("user should be cached after login")
		}
	})

	t.Run("remember me sets auth cookie", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("reader@example.com", "correcthorse", true))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		c := findCookie(w, AuthCookieName)
		if c == nil {
			t.Fatal("expected auth cookie")
		}
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
			t.Errorf("auth cookie attributes: HttpOnly=%v SameSite=%v", c.HttpOnly, c.SameSite)
		}
		if e.ms.TokenCount(42) != 1 {
			t.Errorf("expected 1 stored token, got %d", e.ms.TokenCount(42))
		}
	})

	t.Run("wrong password returns 401", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("reader@example.com", "wrongpassword", false))

		assertUnauthorized(t, w, "invalid credentials")
	})

	t.Run("unknown email returns same 401", func(t *testing.T) {
		e := newTestEnv()
		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("nobody@example.com", "correcthorse", false))

		assertUnauthorized(t, w, "invalid credentials")
	})

	t.Run("rate limited returns 429 without checking credentials", func(t *testing.T) {
		e := newTestEnv()
		e.rl.Err = store.ErrRateLimitExceeded

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("reader@example.com", "correcthorse", false))

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("status: expected 429, got %d", w.Code)
		}
		if e.ms.Calls("GetUserByCredentials") != 0 {
			t.Error("credentials should not be checked when rate limited")
		}
		if len(e.rl.Keys) != 1 || e.rl.Keys[0] != "login:email:reader@example.com" {
			t.Errorf("rate limit keys: got %v", e.rl.Keys)
		}
	})

	t.Run("rate limiter failure returns 500", func(t *testing.T) {
		e := newTestEnv()
		e.rl.Err = errors.New("redis down")

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("reader@example.com", "correcthorse", false))

		assertInternalServerError(t, w)
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		e := newTestEnv()
		e.ms.GetUserByCredentialsErr = errors.New("connection refused")

		w := e.serve(http.HandlerFunc(e.h.Login), loginReq("reader@example.com", "correcthorse", false))

		assertInternalServerError(t, w)
	})
}

// --- CurrentUser ---

func TestCurrentUser(t *testing.T) {
	t.Run("logged in returns cached user", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")

		w := e.serve(e.h.RequiresUser(http.HandlerFunc(e.h.CurrentUser)),
			e.loggedInRequest(http.MethodGet, "/api/user", 42))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		if u := decodeUser(t, w); u.Username != "user42" {
			t.Errorf("username: expected user42, got %q", u.Username)
		}
	})

	t.Run("anonymous returns 401", func(t *testing.T) {
		e := newTestEnv()
		w := e.serve(e.h.RequiresUser(http.HandlerFunc(e.h.CurrentUser)),
			httptest.NewRequest(http.MethodGet, "/api/user", nil))

		assertUnauthorized(t, w, "unauthorized")
	})
}

// --- Logout ---

func TestLogout(t *testing.T) {
	t.Run("revokes presented token and destroys session", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")
		cookie, _, err := e.h.GenerateAuthToken(t.Context(), 42, e.ms.Users[42].UUID)
		if err != nil {
			t.Fatalf("GenerateAuthToken: %v", err)
		}
		if _, _, err := e.h.GenerateAuthToken(t.Context(), 42, e.ms.Users[42].UUID); err != nil {
			t.Fatalf("GenerateAuthToken: %v", err)
		}

		r := e.loggedInRequest(http.MethodPost, "/api/logout", 42)
		addAuthCookie(r, cookie)
		w := e.serve(http.HandlerFunc(e.h.Logout), r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		if e.ms.TokenCount(42) != 1 {
			t.Errorf("expected only the presented token revoked, %d remain", e.ms.TokenCount(42))
		}
		if _, ok := e.ss.Get("sid-logged-in"); ok {
			t.Error("session should be deleted")
		}
		assertClearedAuthCookie(t, w)
		if c := findCookie(w, session.CookieName); c == nil || c.MaxAge != -1 {
			t.Error("session cookie should be expired")
		}
	})

	t.Run("anonymous returns 401", func(t *testing.T) {
		e := newTestEnv()
		w := e.serve(http.HandlerFunc(e.h.Logout), httptest.NewRequest(http.MethodPost, "/api/logout", nil))

		assertUnauthorized(t, w, "unauthorized")
	})

	t.Run("token delete failure returns 500", func(t *testing.T) {
		e := newTestEnv()
		e.ms.DeleteAuthTokenErr = errors.New("connection refused")
		r := e.loggedInRequest(http.MethodPost, "/api/logout", 42)
		addAuthCookie(r, "lookup;secret;"+strings.Repeat("A", 48))

		w := e.serve(http.HandlerFunc(e.h.Logout), r)

		assertInternalServerError(t, w)
	})
}

// --- LogoutAll ---

func TestLogoutAll(t *testing.T) {
	t.Run("revokes every token and session of the user only", func(t *testing.T) {
		e := newTestEnv()
		e.seedUser(42, "reader@example.com", "correcthorse")
		e.seedUser(7, "other@example.com", "correcthorse")
		for range 3 {
			if _, _, err := e.h.GenerateAuthToken(t.Context(), 42, e.ms.Users[42].UUID); err != nil {
				t.Fatalf("GenerateAuthToken: %v", err)
			}
		}
		if _, _, err := e.h.GenerateAuthToken(t.Context(), 7, e.ms.Users[7].UUID); err != nil {
			t.Fatalf("GenerateAuthToken: %v", err)
		}
		e.ss.Put("phone", store.CachedSession{UserID: 42})
		e.ss.Put("other", store.CachedSession{UserID: 7})

		w := e.serve(http.HandlerFunc(e.h.LogoutAll), e.loggedInRequest(http.MethodPost, "/api/logout-all", 42))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		if e.ms.TokenCount(42) != 0 {
			t.Errorf("expected all tokens of user 42 revoked, %d remain", e.ms.TokenCount(42))
		}
		if e.ms.TokenCount(7) != 1 {
			t.Error("other user's token should survive")
		}
		if e.ss.CountForUser(42) != 0 {
			t.Error("all sessions of user 42 should be deleted")
		}
		if e.ss.CountForUser(7) != 1 {
			t.Error("other user's session should survive")
		}
		assertClearedAuthCookie(t, w)
	})

	t.Run("token revoke failure returns 500", func(t *testing.T) {
		e := newTestEnv()
		e.ms.DeleteUserAuthTokensErr = errors.New("connection refused")

		w := e.serve(http.HandlerFunc(e.h.LogoutAll), e.loggedInRequest(http.MethodPost, "/api/logout-all", 42))

		assertInternalServerError(t, w)
	})
}

// --- CheckHealth ---

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name       string
		pgErr      error
		redisErr   error
		wantStatus int
		wantBody   string
	}{
		{"both healthy", nil, nil, http.StatusOK, `{"postgres":"ok","redis":"ok"}`},
		{"postgres down", errors.New("down"), nil, http.StatusServiceUnavailable, `{"postgres":"error","redis":"ok"}`},
		{"redis down", nil, errors.New("down"), http.StatusServiceUnavailable, `{"postgres":"ok","redis":"error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv()
			e.ms.CheckHealthErr = tt.pgErr
			e.ss.CheckHealthErr = tt.redisErr
			w := httptest.NewRecorder()

			e.h.CheckHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status: expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body: expected %s, got %s", tt.wantBody, got)
			}
		})
	}
}
