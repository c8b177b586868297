// Package rules implements the anomaly rule engine: schedule validation,
// tenant ownership checks, camera association management and the rule
// lifecycle itself. Persistence is consumed through the Store interface;
// the catalog package provides the Postgres implementation.
package rules

import (
	"context"
	"errors"

	"argus-vms/internal/schema"
)

// ErrRuleNotFound is returned by Store implementations when the rule does not
// exist within the given organization.
var ErrRuleNotFound = errors.New("rules: rule not found")

// Store is the repository adapter the rule engine requires. Implementations
// must scope every query by organization ID and keep InsertRule, UpdateRule
// and DeleteRule transactional: a failure part-way leaves neither a
// half-associated rule nor an orphaned association.
type Store interface {
	// OwnedCameras fetches cameras whose ID is in ids AND whose organization
	// matches orgID. Cameras missing or foreign are simply absent from the
	// result; the caller decides what a short result means.
	OwnedCameras(ctx context.Context, orgID int64, ids []int64) ([]schema.Camera, error)

	// OwnedCamera fetches a single camera scoped to the organization.
	// Returns (nil, nil) when absent or foreign.
	OwnedCamera(ctx context.Context, orgID, cameraID int64) (*schema.Camera, error)

	// GetRule fetches a rule with its associated cameras populated.
	// Returns ErrRuleNotFound when absent or foreign.
	GetRule(ctx context.Context, orgID, ruleID int64) (*schema.AnomalyRule, error)

	// ListRules returns all rules for the organization, each with its
	// associated cameras populated.
	ListRules(ctx context.Context, orgID int64) ([]schema.AnomalyRule, error)

	// InsertRule persists a new rule and binds the given camera set in one
	// transaction. Returns the assigned rule ID.
	InsertRule(ctx context.Context, rule *schema.AnomalyRule, cameraIDs []int64) (int64, error)

	// UpdateRule persists the merged rule fields. When rebind is true the
	// rule's entire camera association set is replaced with cameraIDs inside
	// the same transaction. The rule row is locked for the read-modify-write.
	UpdateRule(ctx context.Context, rule *schema.AnomalyRule, cameraIDs []int64, rebind bool) error

	// DeleteRule removes all camera associations and then the rule row, in
	// that order, within one transaction. Returns ErrRuleNotFound when the
	// rule is absent or foreign.
	DeleteRule(ctx context.Context, orgID, ruleID int64) error
}
