package rules

import (
	"context"
	"errors"

	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
)

// Guard performs the tenant-scoped ownership checks every mutating and
// camera-scoped read operation runs before touching anything. It is the single
// place existence and organization membership are verified.
type Guard struct {
	store Store
}

// NewGuard creates a Guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// ResolveOwnedCameras fetches the cameras in ids that belong to orgID. If any
// requested camera is missing or belongs to another organization the whole
// call fails with NotFoundOrForbidden; which of the two happened is not
// disclosed, so a caller cannot probe for cameras in foreign tenants.
// ids must be duplicate-free; the service rejects duplicates before calling.
func (g *Guard) ResolveOwnedCameras(ctx context.Context, orgID int64, ids []int64) ([]schema.Camera, error) {
	if len(ids) == 0 {
		return nil, apperr.InvalidInput("invalid request: camera_ids must not be empty")
	}

	cameras, err := g.store.OwnedCameras(ctx, orgID, ids)
	if err != nil {
		return nil, storeErr("resolve cameras", err)
	}

	if len(cameras) != len(ids) {
		return nil, apperr.E(apperr.KindNotFoundOrForbidden, "camera not found")
	}

	return cameras, nil
}

// ResolveOwnedCamera fetches a single camera scoped to the organization,
// failing with NotFoundOrForbidden when it is absent or foreign.
func (g *Guard) ResolveOwnedCamera(ctx context.Context, orgID, cameraID int64) (*schema.Camera, error) {
	camera, err := g.store.OwnedCamera(ctx, orgID, cameraID)
	if err != nil {
		return nil, storeErr("resolve camera", err)
	}
	if camera == nil {
		return nil, apperr.E(apperr.KindNotFoundOrForbidden, "camera not found")
	}
	return camera, nil
}

// ResolveOwnedRule fetches a rule scoped to the organization, failing with
// NotFound when it is absent or foreign.
func (g *Guard) ResolveOwnedRule(ctx context.Context, orgID, ruleID int64) (*schema.AnomalyRule, error) {
	rule, err := g.store.GetRule(ctx, orgID, ruleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, apperr.E(apperr.KindNotFound, "rule not found")
		}
		return nil, storeErr("resolve rule", err)
	}
	return rule, nil
}

// storeErr classifies storage failures: context expiry becomes Unavailable,
// anything else Internal. The underlying error stays attached for logging.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindUnavailable, "storage unavailable", err)
	}
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}
