// Package alerting manages the alert lifecycle: intake from the detection
// pipeline, org-scoped queries, and acknowledge/resolve transitions.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
	"argus-vms/internal/storage"
)

// Store is the subset of the alert store the manager reads and mutates.
type Store interface {
	Get(ctx context.Context, orgID int64, id uuid.UUID) (*schema.Alert, error)
	List(ctx context.Context, orgID int64, filter storage.AlertFilter) ([]*schema.Alert, error)
	SetStatus(ctx context.Context, orgID int64, id uuid.UUID, status schema.AlertStatus, by string, at time.Time) error
}

// Writer accepts new alerts for asynchronous persistence.
type Writer interface {
	Write(alert *schema.Alert) error
}

// Config configures the alert manager.
type Config struct {
	// DeduplicationWindow suppresses repeat alerts for the same rule and
	// camera within the window. Zero disables deduplication.
	DeduplicationWindow time.Duration `yaml:"deduplication_window"`

	// MaxListLimit caps the page size of List queries.
	MaxListLimit int `yaml:"max_list_limit"`
}

// DefaultConfig returns default manager configuration.
func DefaultConfig() Config {
	return Config{
		DeduplicationWindow: 5 * time.Minute,
		MaxListLimit:        500,
	}
}

// Manager coordinates alert intake and lifecycle transitions.
type Manager struct {
	config Config
	store  Store
	writer Writer

	dedup   map[string]time.Time // org:rule:camera -> last alert time
	dedupMu sync.Mutex
	now     func() time.Time

	recorded   atomic.Uint64
	suppressed atomic.Uint64
}

// NewManager creates a new alert manager.
func NewManager(cfg Config, store Store, writer Writer) *Manager {
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 500
	}

	return &Manager{
		config: cfg,
		store:  store,
		writer: writer,
		dedup:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// Record accepts a validated alert from the pipeline. Returns false when the
// alert was suppressed by the deduplication window.
func (m *Manager) Record(alert *schema.Alert) (bool, error) {
	if m.config.DeduplicationWindow > 0 {
		key := fmt.Sprintf("%d:%d:%d", alert.OrganizationID, alert.RuleID, alert.CameraID)

		m.dedupMu.Lock()
		if last, ok := m.dedup[key]; ok && m.now().Sub(last) < m.config.DeduplicationWindow {
			m.dedupMu.Unlock()
			m.suppressed.Add(1)
			slog.Debug("alert suppressed by deduplication",
				"org_id", alert.OrganizationID,
				"rule_id", alert.RuleID,
				"camera_id", alert.CameraID,
			)
			return false, nil
		}
		m.dedup[key] = m.now()
		m.dedupMu.Unlock()
	}

	if err := m.writer.Write(alert); err != nil {
		return false, apperr.Wrap(apperr.KindUnavailable, "alert intake unavailable", err)
	}

	m.recorded.Add(1)
	slog.Info("alert recorded",
		"alert_id", alert.ID,
		"org_id", alert.OrganizationID,
		"rule_id", alert.RuleID,
		"camera_id", alert.CameraID,
		"criticality", alert.Criticality,
	)
	return true, nil
}

// Get returns one alert scoped to the organization.
func (m *Manager) Get(ctx context.Context, orgID int64, id uuid.UUID) (*schema.Alert, error) {
	alert, err := m.store.Get(ctx, orgID, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apperr.E(apperr.KindNotFound, "alert not found")
		}
		return nil, storeErr(err)
	}
	return alert, nil
}

// List returns alerts for the organization, newest first.
func (m *Manager) List(ctx context.Context, orgID int64, filter storage.AlertFilter) ([]*schema.Alert, error) {
	if filter.Limit <= 0 || filter.Limit > m.config.MaxListLimit {
		filter.Limit = m.config.MaxListLimit
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperr.InvalidInput("invalid status filter %q", filter.Status)
	}
	if filter.Criticality != "" && !filter.Criticality.IsValid() {
		return nil, apperr.InvalidInput("invalid criticality filter %q", filter.Criticality)
	}

	alerts, err := m.store.List(ctx, orgID, filter)
	if err != nil {
		return nil, storeErr(err)
	}
	return alerts, nil
}

// Acknowledge transitions an alert to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, orgID int64, id uuid.UUID, user string) (*schema.Alert, error) {
	return m.transition(ctx, orgID, id, schema.AlertStatusAcknowledged, user)
}

// Resolve transitions an alert to resolved.
func (m *Manager) Resolve(ctx context.Context, orgID int64, id uuid.UUID, user string) (*schema.Alert, error) {
	return m.transition(ctx, orgID, id, schema.AlertStatusResolved, user)
}

func (m *Manager) transition(ctx context.Context, orgID int64, id uuid.UUID, next schema.AlertStatus, user string) (*schema.Alert, error) {
	alert, err := m.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if !alert.Status.CanTransitionTo(next) {
		return nil, apperr.InvalidInput("alert is %s and cannot become %s", alert.Status, next)
	}

	at := m.now().UTC()
	if err := m.store.SetStatus(ctx, orgID, id, next, user, at); err != nil {
		return nil, storeErr(err)
	}

	alert.Status = next
	switch next {
	case schema.AlertStatusAcknowledged:
		alert.AckedAt = &at
		alert.AckedBy = user
	case schema.AlertStatusResolved:
		alert.ResolvedAt = &at
		alert.ResolvedBy = user
	}

	slog.Info("alert status changed",
		"alert_id", id,
		"org_id", orgID,
		"status", next,
		"user", user,
	)
	return alert, nil
}

// PruneDedup drops deduplication entries older than the window. Called
// periodically so the map does not grow unbounded.
func (m *Manager) PruneDedup() int {
	if m.config.DeduplicationWindow <= 0 {
		return 0
	}

	cutoff := m.now().Add(-m.config.DeduplicationWindow)

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()

	removed := 0
	for key, last := range m.dedup {
		if last.Before(cutoff) {
			delete(m.dedup, key)
			removed++
		}
	}
	return removed
}

// Stats returns intake counters.
func (m *Manager) Stats() map[string]uint64 {
	return map[string]uint64{
		"recorded":   m.recorded.Load(),
		"suppressed": m.suppressed.Load(),
	}
}

func storeErr(err error) error {
	if storage.IsRetryable(err) {
		return apperr.Wrap(apperr.KindUnavailable, "storage unavailable", err)
	}
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}
