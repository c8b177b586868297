package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator checks alerts submitted by the detection pipeline against
// the canonical schema, including timestamp sanity bounds.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig bounds accepted alert timestamps. MaxAge guards
// against replayed backlogs, MaxFuture against clock-skewed devices.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("criticality", func(fl validator.FieldLevel) bool {
		return Criticality(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("time_of_day", func(fl validator.FieldLevel) bool {
		return TimeOfDay(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate rejects alerts with missing fields, unknown enum values, or
// timestamps outside the accepted window.
func (v *Validator) Validate(alert *Alert) error {
	if err := v.validate.Struct(alert); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if alert.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}

	now := time.Now().UTC()
	if alert.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", alert.Timestamp, v.maxAge)
	}
	if alert.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", alert.Timestamp, v.maxFuture)
	}

	if alert.Status != "" && !alert.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", alert.Status)
	}
	return nil
}

// Struct validates any schema struct with the registered custom tags.
// The rule service uses this for field-level checks.
func (v *Validator) Struct(s any) error {
	return v.validate.Struct(s)
}
