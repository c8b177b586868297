// Package auth provides session-based authentication for the management API.
// Operators belong to exactly one organization; the middleware resolves the
// session and stamps the organization onto the request context so downstream
// handlers never see another tenant's resources.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"argus-vms/internal/middleware"
)

// Role defines operator access levels.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// IsValid reports whether the role is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// Operator is an authenticated user of the management API.
type Operator struct {
	ID                    string    `json:"id"`
	Username              string    `json:"username"`
	PasswordHash          string    `json:"-"`
	OrganizationID        int64     `json:"organization_id"`
	Role                  Role      `json:"role"`
	Disabled              bool      `json:"disabled"`
	RequirePasswordChange bool      `json:"require_password_change"`
	CreatedAt             time.Time `json:"created_at"`
	LastLoginAt           time.Time `json:"last_login_at,omitempty"`
}

// Session is an authenticated session bound to an operator and its
// organization.
type Session struct {
	Token          string    `json:"token"`
	OperatorID     string    `json:"operator_id"`
	Username       string    `json:"username"`
	OrganizationID int64     `json:"organization_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Common authentication errors. Login failures deliberately collapse into
// ErrInvalidCredentials so responses do not reveal which part was wrong.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrOperatorDisabled   = errors.New("operator is disabled")
	ErrOperatorExists     = errors.New("operator already exists")
)

// bcryptCost is the work factor for password hashing.
const bcryptCost = 12

// dummyHash is compared against when the username is unknown so that login
// timing does not reveal whether an account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcryptCost)

// Config holds authentication service configuration.
type Config struct {
	SessionTTL     time.Duration `yaml:"session_ttl"`
	CookieName     string        `yaml:"cookie_name"`
	SecureCookies  bool          `yaml:"secure_cookies"`
	Admin          AdminConfig   `yaml:"admin"`
	PasswordPolicy PasswordPolicy `yaml:"password_policy"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:     24 * time.Hour,
		CookieName:     "argus_session",
		SecureCookies:  true,
		Admin:          DefaultAdminConfig(),
		PasswordPolicy: DefaultPasswordPolicy(),
	}
}

// AuthService manages operators and sessions.
type AuthService struct {
	config       Config
	sessions     SessionStorage
	logger       *slog.Logger
	loginLimiter *middleware.LoginRateLimiter
	mu           sync.RWMutex
	operators    map[string]*Operator // username -> operator
}

// NewAuthService creates an authentication service. Sessions live in the
// provided storage; a nil storage falls back to in-memory sessions.
func NewAuthService(cfg Config, sessions SessionStorage, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = NewMemorySessionStorage()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "argus_session"
	}

	s := &AuthService{
		config:       cfg,
		sessions:     sessions,
		logger:       logger,
		loginLimiter: middleware.NewLoginRateLimiter(5, 15*time.Minute),
		operators:    make(map[string]*Operator),
	}

	s.initDefaultOperators()

	return s
}

// Close releases the service's background resources. Session storage is
// closed by its owner.
func (s *AuthService) Close() error {
	s.loginLimiter.Stop()
	return nil
}

// RegisterRoutes registers authentication endpoints on the mux. Operator
// provisioning is admin-only; the rest are open so sessions can be
// established.
func (s *AuthService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /v1/auth/session", s.handleSession)
	mux.Handle("POST /v1/operators", RequireRole(RoleAdmin)(http.HandlerFunc(s.handleCreateOperator)))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createOperatorRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// handleCreateOperator provisions an operator inside the caller's own
// organization. Admins cannot create accounts for other tenants.
func (s *AuthService) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = RoleViewer
	}

	operator, err := s.CreateOperator(req.Username, req.Password, id.OrganizationID, req.Role)
	if err != nil {
		if errors.Is(err, ErrOperatorExists) {
			writeAuthError(w, http.StatusConflict, ErrOperatorExists.Error())
			return
		}
		writeAuthError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("operator created",
		"username", operator.Username,
		"org_id", operator.OrganizationID,
		"role", operator.Role,
		"created_by", id.Username,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(operator)
}

func (s *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.loginLimiter.Allow(req.Username) {
		s.logger.Warn("login rate limited",
			"username", req.Username,
			"remote", clientIP(r),
		)
		writeAuthError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	operator, err := s.Authenticate(req.Username, req.Password)
	if err != nil {
		s.logger.Warn("login failed",
			"username", req.Username,
			"remote", clientIP(r),
		)
		writeAuthError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		return
	}

	session, err := s.CreateSession(r.Context(), operator, r)
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		writeAuthError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	s.logger.Info("login succeeded",
		"username", operator.Username,
		"org_id", operator.OrganizationID,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":                   session.Token,
		"expires_at":              session.ExpiresAt,
		"organization_id":         operator.OrganizationID,
		"role":                    operator.Role,
		"require_password_change": operator.RequirePasswordChange,
	})
}

func (s *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.extractToken(r)
	if token != "" {
		if err := s.sessions.Delete(r.Context(), token); err != nil {
			s.logger.Warn("logout session delete failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (s *AuthService) handleSession(w http.ResponseWriter, r *http.Request) {
	token := s.extractToken(r)
	if token == "" {
		writeAuthError(w, http.StatusUnauthorized, "no session")
		return
	}

	session, err := s.ValidateSession(r.Context(), token)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "invalid session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// Authenticate verifies a username and password. Unknown usernames still pay
// the bcrypt cost so response timing stays flat.
func (s *AuthService) Authenticate(username, password string) (*Operator, error) {
	s.mu.RLock()
	operator, exists := s.operators[username]
	s.mu.RUnlock()

	if !exists {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if operator.Disabled {
		return nil, ErrOperatorDisabled
	}

	s.mu.Lock()
	operator.LastLoginAt = time.Now()
	s.mu.Unlock()

	return operator, nil
}

// CreateSession creates and persists a session for an operator.
func (s *AuthService) CreateSession(ctx context.Context, operator *Operator, r *http.Request) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Token:          token,
		OperatorID:     operator.ID,
		Username:       operator.Username,
		OrganizationID: operator.OrganizationID,
		Role:           operator.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.SessionTTL),
		LastActiveAt:   now,
	}

	if r != nil {
		session.IPAddress = clientIP(r)
		session.UserAgent = r.UserAgent()
	}

	if err := s.sessions.Store(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return session, nil
}

// ValidateSession resolves a token to an active session.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	return s.sessions.Get(ctx, token)
}

// CreateOperator registers a new operator. The password is hashed before
// storage; the plaintext is never retained.
func (s *AuthService) CreateOperator(username, password string, orgID int64, role Role) (*Operator, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid role: %s", role)
	}
	if err := s.config.PasswordPolicy.Validate(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operators[username]; exists {
		return nil, ErrOperatorExists
	}

	operator := &Operator{
		ID:             generateID(),
		Username:       username,
		PasswordHash:   string(hash),
		OrganizationID: orgID,
		Role:           role,
		CreatedAt:      time.Now(),
	}
	s.operators[username] = operator

	return operator, nil
}

// GetOperator looks up an operator by username.
func (s *AuthService) GetOperator(username string) (*Operator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[username]
	return op, ok
}

// RevokeOperatorSessions deletes all sessions belonging to an operator.
func (s *AuthService) RevokeOperatorSessions(ctx context.Context, operatorID string) error {
	return s.sessions.DeleteByOperatorID(ctx, operatorID)
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	OperatorID     string
	Username       string
	OrganizationID int64
	Role           Role
}

type contextKey string

const identityKey contextKey = "auth.identity"

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// OrgFromContext returns the caller's organization ID. The second return is
// false for unauthenticated requests.
func OrgFromContext(ctx context.Context) (int64, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return 0, false
	}
	return id.OrganizationID, true
}

// WithIdentity attaches an identity to a context. Used by tests and by
// internal callers that bypass HTTP.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Middleware validates the session and attaches the caller's identity to the
// request context. Unauthenticated requests to protected paths get a 401.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := s.extractToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		session, err := s.ValidateSession(r.Context(), token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		if err := s.sessions.UpdateActivity(r.Context(), token, time.Now()); err != nil {
			s.logger.Debug("failed to update session activity", "error", err)
		}

		ctx := WithIdentity(r.Context(), Identity{
			OperatorID:     session.OperatorID,
			Username:       session.Username,
			OrganizationID: session.OrganizationID,
			Role:           session.Role,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole returns middleware that rejects callers below the given role.
// Admin passes everything; operator passes operator and viewer checks. It
// reads the identity attached by Middleware, so it must sit inside it.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !roleAllows(id.Role, role) {
				writeAuthError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func roleAllows(have, want Role) bool {
	rank := map[Role]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}
	return rank[have] >= rank[want]
}

// extractToken pulls the session token from the Authorization header or the
// session cookie.
func (s *AuthService) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}

	if cookie, err := r.Cookie(s.config.CookieName); err == nil {
		return cookie.Value
	}

	return ""
}

func isPublicEndpoint(path string) bool {
	switch path {
	case "/v1/auth/login", "/health", "/metrics":
		return true
	}
	return false
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": message})
}
