package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
)

// Config holds rule engine settings.
type Config struct {
	// AllowEmptySchedule permits rules whose weekday set is empty (a schedule
	// that never fires). Off by default; empty sets are rejected.
	AllowEmptySchedule bool `yaml:"allow_empty_schedule"`

	// StoreTimeout bounds every storage call so no operation hangs the
	// caller. Expired calls fail as Unavailable.
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// DefaultConfig returns the default rule engine configuration.
func DefaultConfig() Config {
	return Config{
		AllowEmptySchedule: false,
		StoreTimeout:       5 * time.Second,
	}
}

// Service orchestrates the rule lifecycle: field validation, schedule
// validation, ownership resolution, persistence and camera binding, in that
// order. Validation failures never reach storage.
type Service struct {
	store     Store
	guard     *Guard
	config    Config
	validator *schema.Validator
}

// NewService creates a rule Service.
func NewService(store Store, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Service{
		store:     store,
		guard:     NewGuard(store),
		config:    cfg,
		validator: schema.NewValidator(),
	}
}

// Guard exposes the ownership guard for camera-scoped collaborators such as
// the stats aggregator.
func (s *Service) Guard() *Guard {
	return s.guard
}

// CreateInput carries the fields for a new rule.
type CreateInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Criticality schema.Criticality `json:"criticality"`
	ModelName   string             `json:"model_name"`
	CameraIDs   []int64            `json:"camera_ids"`
	StartTime   schema.TimeOfDay   `json:"start_time"`
	EndTime     schema.TimeOfDay   `json:"end_time"`
	DaysOfWeek  []schema.Weekday   `json:"days_of_week"`
}

// UpdateInput carries a partial field set for an existing rule. Nil fields
// retain their stored value (merge semantics). A non-nil CameraIDs replaces
// the rule's entire camera set.
type UpdateInput struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Criticality *schema.Criticality `json:"criticality"`
	ModelName   *string             `json:"model_name"`
	Status      *schema.RuleStatus  `json:"status"`
	StartTime   *schema.TimeOfDay   `json:"start_time"`
	EndTime     *schema.TimeOfDay   `json:"end_time"`
	DaysOfWeek  []schema.Weekday    `json:"days_of_week"`
	CameraIDs   []int64             `json:"camera_ids"`
}

// Create validates and persists a new rule with its camera associations.
// Pipeline order is fixed: required fields, collection shape, schedule,
// ownership, then persist-and-bind as one transactional unit.
func (s *Service) Create(ctx context.Context, orgID int64, in CreateInput) (*schema.AnomalyRule, error) {
	if err := s.validateRequired(in); err != nil {
		return nil, err
	}

	if err := checkDuplicateIDs(in.CameraIDs); err != nil {
		return nil, err
	}

	if err := ValidateSchedule(in.DaysOfWeek, in.StartTime, in.EndTime, s.config.AllowEmptySchedule); err != nil {
		return nil, err
	}

	criticality := in.Criticality
	if criticality == "" {
		criticality = schema.CriticalityLow
	}
	if !criticality.IsValid() {
		return nil, apperr.InvalidInput("invalid request: unknown criticality %q", string(in.Criticality))
	}

	now := time.Now().UTC()
	rule := &schema.AnomalyRule{
		OrganizationID: orgID,
		Title:          in.Title,
		Description:    in.Description,
		Criticality:    criticality,
		ModelName:      in.ModelName,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		DaysOfWeek:     NormalizeDays(in.DaysOfWeek),
		Status:         schema.RuleStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Tag-level checks cover field lengths and enum values the explicit
	// checks above do not.
	if err := s.validator.Struct(rule); err != nil {
		return nil, apperr.InvalidInput("invalid request: %v", err)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	cameras, err := s.guard.ResolveOwnedCameras(ctx, orgID, in.CameraIDs)
	if err != nil {
		return nil, err
	}

	id, err := s.store.InsertRule(ctx, rule, in.CameraIDs)
	if err != nil {
		return nil, storeErr("create rule", err)
	}

	rule.ID = id
	rule.Cameras = cameras

	slog.Info("rule created",
		"rule_id", id,
		"organization_id", orgID,
		"cameras", len(cameras),
		"criticality", string(rule.Criticality),
	)

	return rule, nil
}

// Get returns a single rule with its cameras, scoped to the organization.
func (s *Service) Get(ctx context.Context, orgID, ruleID int64) (*schema.AnomalyRule, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.guard.ResolveOwnedRule(ctx, orgID, ruleID)
}

// List returns all rules for the organization with their cameras populated.
func (s *Service) List(ctx context.Context, orgID int64) ([]schema.AnomalyRule, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ruleList, err := s.store.ListRules(ctx, orgID)
	if err != nil {
		return nil, storeErr("list rules", err)
	}
	return ruleList, nil
}

// Update applies a partial field set to an existing rule. Supplied fields
// replace stored values; omitted fields are untouched. A supplied camera set
// is ownership-checked and then replaces the association set wholesale.
func (s *Service) Update(ctx context.Context, orgID, ruleID int64, in UpdateInput) (*schema.AnomalyRule, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rule, err := s.guard.ResolveOwnedRule(ctx, orgID, ruleID)
	if err != nil {
		return nil, err
	}

	rebind := in.CameraIDs != nil
	var cameras []schema.Camera
	if rebind {
		if err := checkDuplicateIDs(in.CameraIDs); err != nil {
			return nil, err
		}
		cameras, err = s.guard.ResolveOwnedCameras(ctx, orgID, in.CameraIDs)
		if err != nil {
			return nil, err
		}
	}

	if err := s.merge(rule, in); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(rule); err != nil {
		return nil, apperr.InvalidInput("invalid request: %v", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRule(ctx, rule, in.CameraIDs, rebind); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, apperr.E(apperr.KindNotFound, "rule not found")
		}
		return nil, storeErr("update rule", err)
	}

	if rebind {
		rule.Cameras = cameras
	}

	slog.Info("rule updated",
		"rule_id", ruleID,
		"organization_id", orgID,
		"cameras_rebound", rebind,
	)

	return rule, nil
}

// Delete removes a rule. Camera associations are cleared before the rule row
// is destroyed so no association ever references a deleted rule.
func (s *Service) Delete(ctx context.Context, orgID, ruleID int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.guard.ResolveOwnedRule(ctx, orgID, ruleID); err != nil {
		return err
	}

	if err := s.store.DeleteRule(ctx, orgID, ruleID); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return apperr.E(apperr.KindNotFound, "rule not found")
		}
		return storeErr("delete rule", err)
	}

	slog.Info("rule deleted", "rule_id", ruleID, "organization_id", orgID)
	return nil
}

// validateRequired checks presence of every required create field. Runs
// strictly before shape, schedule and ownership checks.
func (s *Service) validateRequired(in CreateInput) error {
	switch {
	case in.Title == "":
		return apperr.MissingField("title")
	case in.Description == "":
		return apperr.MissingField("description")
	case in.ModelName == "":
		return apperr.MissingField("model_name")
	case in.CameraIDs == nil:
		return apperr.MissingField("camera_ids")
	case in.StartTime == "":
		return apperr.MissingField("start_time")
	case in.EndTime == "":
		return apperr.MissingField("end_time")
	case in.DaysOfWeek == nil:
		return apperr.MissingField("days_of_week")
	}

	if len(in.CameraIDs) == 0 {
		return apperr.InvalidInput("invalid request: camera_ids must not be empty")
	}

	return nil
}

// merge applies the supplied update fields onto the stored rule.
func (s *Service) merge(rule *schema.AnomalyRule, in UpdateInput) error {
	if in.Title != nil {
		if *in.Title == "" {
			return apperr.InvalidInput("invalid request: title must not be empty")
		}
		rule.Title = *in.Title
	}
	if in.Description != nil {
		rule.Description = *in.Description
	}
	if in.Criticality != nil {
		if !in.Criticality.IsValid() {
			return apperr.InvalidInput("invalid request: unknown criticality %q", string(*in.Criticality))
		}
		rule.Criticality = *in.Criticality
	}
	if in.ModelName != nil {
		if *in.ModelName == "" {
			return apperr.InvalidInput("invalid request: model_name must not be empty")
		}
		rule.ModelName = *in.ModelName
	}
	if in.Status != nil {
		if !in.Status.IsValid() {
			return apperr.InvalidInput("invalid request: unknown status %q", string(*in.Status))
		}
		rule.Status = *in.Status
	}

	start := rule.StartTime
	end := rule.EndTime
	if in.StartTime != nil {
		start = *in.StartTime
	}
	if in.EndTime != nil {
		end = *in.EndTime
	}
	days := rule.DaysOfWeek
	if in.DaysOfWeek != nil {
		days = in.DaysOfWeek
	}

	if in.StartTime != nil || in.EndTime != nil || in.DaysOfWeek != nil {
		if err := ValidateSchedule(days, start, end, s.config.AllowEmptySchedule); err != nil {
			return err
		}
	}

	rule.StartTime = start
	rule.EndTime = end
	rule.DaysOfWeek = NormalizeDays(days)

	return nil
}

// checkDuplicateIDs rejects duplicate camera identifiers. The ownership
// guard's count check assumes a duplicate-free input, so ambiguity is removed
// here rather than left to store de-duplication behavior.
func checkDuplicateIDs(ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperr.InvalidInput("invalid request: duplicate camera id %d", id)
		}
		seen[id] = true
	}
	return nil
}

// bound derives a context with the configured storage timeout.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.StoreTimeout)
}
