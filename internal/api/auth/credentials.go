package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy defines minimum password requirements.
type PasswordPolicy struct {
	MinLength        int  `yaml:"min_length"`
	RequireUppercase bool `yaml:"require_uppercase"`
	RequireLowercase bool `yaml:"require_lowercase"`
	RequireDigit     bool `yaml:"require_digit"`
	RequireSpecial   bool `yaml:"require_special"`
}

// DefaultPasswordPolicy returns the default policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        12,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

// Validate checks a password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters", p.MinLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.RequireUppercase && !hasUpper {
		return errors.New("password must contain an uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		return errors.New("password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		return errors.New("password must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		return errors.New("password must contain a special character")
	}

	return nil
}

// passwordCharset covers every class the default policy requires.
const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_=+"

// GenerateSecurePassword returns a random password of at least 16 characters
// that satisfies the default policy.
func GenerateSecurePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	for attempt := 0; attempt < 10; attempt++ {
		b := make([]byte, length)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordCharset))))
			if err != nil {
				return "", fmt.Errorf("failed to generate password: %w", err)
			}
			b[i] = passwordCharset[n.Int64()]
		}

		password := string(b)
		if DefaultPasswordPolicy().Validate(password) == nil {
			return password, nil
		}
	}

	return "", errors.New("failed to generate a policy-compliant password")
}

// AdminConfig controls bootstrap of the initial admin operator.
type AdminConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	OrganizationID int64  `yaml:"organization_id"`

	// PasswordEnvVar names the environment variable consulted when Password
	// is empty.
	PasswordEnvVar string `yaml:"password_env_var"`
}

// DefaultAdminConfig returns bootstrap defaults. No password is configured;
// one is read from the environment or generated at startup.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Username:       "admin",
		OrganizationID: 1,
		PasswordEnvVar: "ARGUS_ADMIN_PASSWORD",
	}
}

// initDefaultOperators bootstraps the initial admin. Password precedence:
// explicit config, then the environment variable, then a generated password
// logged once at startup. A configured password that fails the policy is
// refused and a random one is generated instead.
func (s *AuthService) initDefaultOperators() {
	cfg := s.config.Admin
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if cfg.OrganizationID == 0 {
		cfg.OrganizationID = 1
	}

	password := cfg.Password
	if password == "" && cfg.PasswordEnvVar != "" {
		password = os.Getenv(cfg.PasswordEnvVar)
	}

	generated := false
	if password != "" {
		if err := s.config.PasswordPolicy.Validate(password); err != nil {
			s.logger.Warn("configured admin password rejected by policy, generating a random one",
				"error", err)
			password = ""
		}
	}

	if password == "" {
		var err error
		password, err = GenerateSecurePassword(20)
		if err != nil {
			s.logger.Error("failed to generate admin password", "error", err)
			return
		}
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash admin password", "error", err)
		return
	}

	s.mu.Lock()
	s.operators[cfg.Username] = &Operator{
		ID:                    generateID(),
		Username:              cfg.Username,
		PasswordHash:          string(hash),
		OrganizationID:        cfg.OrganizationID,
		Role:                  RoleAdmin,
		RequirePasswordChange: generated,
		CreatedAt:             time.Now(),
	}
	s.mu.Unlock()

	if generated {
		// Logged once so the operator can record it. Not stored anywhere.
		s.logger.Warn("generated admin password, change it after first login",
			"username", cfg.Username,
			"password", password,
		)
	}
}
