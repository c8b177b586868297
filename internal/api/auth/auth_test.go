package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Admin.Password = "Sup3r-Secret-Passw0rd!"
	cfg.SecureCookies = false

	return NewAuthService(cfg, NewMemorySessionStorage(), nil)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)

	op, err := svc.Authenticate("admin", "Sup3r-Secret-Passw0rd!")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if op.Role != RoleAdmin {
		t.Errorf("Role = %s, want admin", op.Role)
	}
	if op.OrganizationID != 1 {
		t.Errorf("OrganizationID = %d, want 1", op.OrganizationID)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Authenticate("admin", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := newTestService(t)

	// Unknown users get the same error as wrong passwords.
	_, err := svc.Authenticate("ghost", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateOperator(t *testing.T) {
	svc := newTestService(t)

	op, err := svc.CreateOperator("alice", "Val1d-Passw0rd-Here!", 42, RoleOperator)
	if err != nil {
		t.Fatalf("CreateOperator() error = %v", err)
	}
	if op.OrganizationID != 42 {
		t.Errorf("OrganizationID = %d, want 42", op.OrganizationID)
	}
	if op.PasswordHash == "Val1d-Passw0rd-Here!" {
		t.Error("password stored in plaintext")
	}

	if _, err := svc.Authenticate("alice", "Val1d-Passw0rd-Here!"); err != nil {
		t.Errorf("new operator cannot authenticate: %v", err)
	}
}

func TestCreateOperatorValidation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name     string
		username string
		password string
		role     Role
	}{
		{"empty username", "", "Val1d-Passw0rd-Here!", RoleViewer},
		{"weak password", "bob", "short", RoleViewer},
		{"invalid role", "bob", "Val1d-Passw0rd-Here!", Role("superuser")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateOperator(tt.username, tt.password, 1, tt.role); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := svc.CreateOperator("admin", "Val1d-Passw0rd-Here!", 1, RoleViewer); !errors.Is(err, ErrOperatorExists) {
		t.Errorf("expected ErrOperatorExists, got %v", err)
	}
}

func TestDisabledOperatorCannotAuthenticate(t *testing.T) {
	svc := newTestService(t)

	svc.CreateOperator("carol", "Val1d-Passw0rd-Here!", 1, RoleViewer)
	op, _ := svc.GetOperator("carol")
	op.Disabled = true

	if _, err := svc.Authenticate("carol", "Val1d-Passw0rd-Here!"); !errors.Is(err, ErrOperatorDisabled) {
		t.Errorf("expected ErrOperatorDisabled, got %v", err)
	}
}

func login(t *testing.T, svc *AuthService, username, password string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	svc.handleLogin(w, r)
	return w
}

func TestLoginHandler(t *testing.T) {
	svc := newTestService(t)

	w := login(t, svc, "admin", "Sup3r-Secret-Passw0rd!")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == "" {
		t.Error("expected a session token")
	}
	if resp["organization_id"].(float64) != 1 {
		t.Errorf("organization_id = %v, want 1", resp["organization_id"])
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "argus_session" {
		t.Errorf("expected argus_session cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
}

func TestLoginHandlerBadCredentials(t *testing.T) {
	svc := newTestService(t)

	w := login(t, svc, "admin", "nope")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	svc := newTestService(t)

	w := login(t, svc, "admin", "Sup3r-Secret-Passw0rd!")
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	token := resp["token"].(string)

	var gotOrg int64
	var gotOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, gotOK = OrgFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	svc.Middleware(inner).ServeHTTP(httptest.NewRecorder(), r)

	if !gotOK {
		t.Fatal("expected identity in context")
	}
	if gotOrg != 1 {
		t.Errorf("org = %d, want 1", gotOrg)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	svc := newTestService(t)

	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	r := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
	w := httptest.NewRecorder()
	svc.Middleware(inner).ServeHTTP(w, r)

	if called {
		t.Error("handler should not be called without a session")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareAllowsPublicPaths(t *testing.T) {
	svc := newTestService(t)

	for _, path := range []string{"/health", "/metrics", "/v1/auth/login"} {
		called := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		r := httptest.NewRequest(http.MethodGet, path, nil)
		svc.Middleware(inner).ServeHTTP(httptest.NewRecorder(), r)

		if !called {
			t.Errorf("expected %s to pass without a session", path)
		}
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		have    Role
		want    Role
		allowed bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleViewer, true},
		{RoleOperator, RoleOperator, true},
		{RoleOperator, RoleAdmin, false},
		{RoleViewer, RoleOperator, false},
		{RoleViewer, RoleViewer, true},
	}

	for _, tt := range tests {
		called := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
		handler := RequireRole(tt.want)(inner)

		r := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
		r = r.WithContext(WithIdentity(r.Context(), Identity{Role: tt.have, OrganizationID: 1}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if called != tt.allowed {
			t.Errorf("role %s requiring %s: called = %v, want %v", tt.have, tt.want, called, tt.allowed)
		}
		if !tt.allowed && w.Code != http.StatusForbidden {
			t.Errorf("role %s requiring %s: status = %d, want 403", tt.have, tt.want, w.Code)
		}
	}
}

func TestCreateOperatorEndpoint(t *testing.T) {
	svc := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	do := func(role Role, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/operators", bytes.NewReader([]byte(body)))
		r = r.WithContext(WithIdentity(r.Context(), Identity{Username: "root", OrganizationID: 9, Role: role}))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		return w
	}

	w := do(RoleViewer, `{"username":"dave","password":"Val1d-Passw0rd-Here!","role":"viewer"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer provisioning: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = do(RoleAdmin, `{"username":"dave","password":"Val1d-Passw0rd-Here!","role":"operator"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin provisioning: status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	op, ok := svc.GetOperator("dave")
	if !ok {
		t.Fatal("operator dave not stored")
	}
	if op.OrganizationID != 9 {
		t.Errorf("org = %d, want caller's org 9", op.OrganizationID)
	}
	if op.Role != RoleOperator {
		t.Errorf("role = %s, want %s", op.Role, RoleOperator)
	}

	w = do(RoleAdmin, `{"username":"dave","password":"Val1d-Passw0rd-Here!","role":"operator"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate provisioning: status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	svc := newTestService(t)

	w := login(t, svc, "admin", "Sup3r-Secret-Passw0rd!")
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	token := resp["token"].(string)

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	svc.handleLogout(httptest.NewRecorder(), r)

	r = httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w2 := httptest.NewRecorder()
	svc.handleSession(w2, r)

	if w2.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d after logout", w2.Code, http.StatusUnauthorized)
	}
}

func TestLoginRateLimited(t *testing.T) {
	svc := newTestService(t)

	for i := 0; i < 5; i++ {
		w := login(t, svc, "admin", "wrong-password")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, w.Code)
		}
	}

	w := login(t, svc, "admin", "Sup3r-Secret-Passw0rd!")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after repeated failures", w.Code)
	}
}
