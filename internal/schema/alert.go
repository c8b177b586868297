package schema

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus is the resolution state of an alert. The engine only ever
// mutates alerts through the acknowledge/resolve transitions.
type AlertStatus string

const (
	AlertStatusNew          AlertStatus = "new"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// IsValid checks if the alert status is a valid value.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status transition is allowed.
// new -> acknowledged -> resolved, with new -> resolved as a shortcut.
// Resolved is terminal.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusNew:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	}
	return false
}

// Alert is a detected event tied to a rule and camera. Alerts are created by
// the detection pipeline and are append-only apart from status transitions.
type Alert struct {
	ID             uuid.UUID      `json:"id" validate:"required"`
	OrganizationID int64          `json:"organization_id" validate:"required,min=1"`
	RuleID         int64          `json:"rule_id" validate:"required,min=1"`
	CameraID       int64          `json:"camera_id" validate:"required,min=1"`
	Timestamp      time.Time      `json:"timestamp" validate:"required"`
	ReceivedAt     time.Time      `json:"received_at"`
	Criticality    Criticality    `json:"criticality" validate:"required,criticality"`
	Status         AlertStatus    `json:"status"`
	Detail         string         `json:"detail,omitempty" validate:"max=4096"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AckedAt        *time.Time     `json:"acked_at,omitempty"`
	AckedBy        string         `json:"acked_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
}

// AlertInput is the wire format the detection pipeline submits. The alert ID
// is optional; the intake assigns one when absent.
type AlertInput struct {
	AlertID        *uuid.UUID     `json:"alert_id,omitempty"`
	OrganizationID int64          `json:"organization_id"`
	RuleID         int64          `json:"rule_id"`
	CameraID       int64          `json:"camera_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Criticality    Criticality    `json:"criticality"`
	Detail         string         `json:"detail,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ToAlert converts pipeline input into a canonical alert record.
func (in *AlertInput) ToAlert(receivedAt time.Time) *Alert {
	id := uuid.New()
	if in.AlertID != nil {
		id = *in.AlertID
	}

	return &Alert{
		ID:             id,
		OrganizationID: in.OrganizationID,
		RuleID:         in.RuleID,
		CameraID:       in.CameraID,
		Timestamp:      in.Timestamp,
		ReceivedAt:     receivedAt,
		Criticality:    in.Criticality,
		Status:         AlertStatusNew,
		Detail:         in.Detail,
		Metadata:       in.Metadata,
	}
}
