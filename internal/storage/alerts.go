package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"argus-vms/internal/schema"
)

// AlertStore reads and mutates alerts in ClickHouse. Inserts go through the
// BatchWriter; status transitions are applied as lightweight mutations.
type AlertStore struct {
	client *ClickHouseClient
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(client *ClickHouseClient) *AlertStore {
	return &AlertStore{client: client}
}

const alertColumns = `alert_id, org_id, rule_id, camera_id,
	timestamp, received_at, criticality, status,
	detail, metadata, acked_at, acked_by, resolved_at, resolved_by`

// AlertFilter narrows List results. Zero values mean "no filter".
type AlertFilter struct {
	RuleID      int64
	CameraID    int64
	Status      schema.AlertStatus
	Criticality schema.Criticality
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// Get returns a single alert scoped to the organization.
func (s *AlertStore) Get(ctx context.Context, orgID int64, id uuid.UUID) (*schema.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE org_id = ? AND alert_id = ? LIMIT 1`, alertColumns)

	rows, err := s.client.Query(ctx, query, orgID, id)
	if err != nil {
		return nil, WrapQueryError("Get", "alerts", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFoundError("Get", "alerts", id.String())
	}

	return scanAlert(rows)
}

// List returns alerts for the organization, newest first.
func (s *AlertStore) List(ctx context.Context, orgID int64, filter AlertFilter) ([]*schema.Alert, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM alerts WHERE org_id = ?", alertColumns)
	args := []any{orgID}

	if filter.RuleID > 0 {
		sb.WriteString(" AND rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.CameraID > 0 {
		sb.WriteString(" AND camera_id = ?")
		args = append(args, filter.CameraID)
	}
	if filter.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Criticality != "" {
		sb.WriteString(" AND criticality = ?")
		args = append(args, string(filter.Criticality))
	}
	if !filter.From.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		sb.WriteString(" AND timestamp < ?")
		args = append(args, filter.To)
	}

	sb.WriteString(" ORDER BY timestamp DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	fmt.Fprintf(&sb, " LIMIT %d", limit)
	if filter.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", filter.Offset)
	}

	rows, err := s.client.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, WrapQueryError("List", "alerts", err)
	}
	defer rows.Close()

	var alerts []*schema.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// SetStatus applies a status transition mutation. Callers are responsible
// for validating the transition against the current status first.
func (s *AlertStore) SetStatus(ctx context.Context, orgID int64, id uuid.UUID, status schema.AlertStatus, by string, at time.Time) error {
	var query string
	switch status {
	case schema.AlertStatusAcknowledged:
		query = `ALTER TABLE alerts UPDATE status = ?, acked_at = ?, acked_by = ? WHERE org_id = ? AND alert_id = ?`
	case schema.AlertStatusResolved:
		query = `ALTER TABLE alerts UPDATE status = ?, resolved_at = ?, resolved_by = ? WHERE org_id = ? AND alert_id = ?`
	default:
		return fmt.Errorf("storage: unsupported status transition to %q", status)
	}

	if err := s.client.Exec(ctx, query, string(status), at, by, orgID, id); err != nil {
		return WrapQueryError("SetStatus", "alerts", err)
	}

	return nil
}

// CriticalityCount is an aggregation bucket keyed by criticality.
type CriticalityCount struct {
	Criticality schema.Criticality `json:"criticality"`
	Count       uint64             `json:"count"`
}

// CameraCount is an aggregation bucket keyed by camera.
type CameraCount struct {
	CameraID int64  `json:"camera_id"`
	Count    uint64 `json:"count"`
}

// TimeBucketCount is an aggregation bucket keyed by a truncated timestamp.
type TimeBucketCount struct {
	Bucket time.Time `json:"bucket"`
	Count  uint64    `json:"count"`
}

// AggregateFilter narrows aggregation queries. CameraID of zero means all
// cameras in the organization.
type AggregateFilter struct {
	CameraID int64
	From     time.Time
	To       time.Time
}

func (f AggregateFilter) clause() (string, []any) {
	return f.clauseOn("timestamp")
}

// clauseOn builds the filter against the named time column, so the same
// filter works for the base table and the hourly pre-aggregate.
func (f AggregateFilter) clauseOn(timeCol string) (string, []any) {
	var sb strings.Builder
	var args []any

	if f.CameraID > 0 {
		sb.WriteString(" AND camera_id = ?")
		args = append(args, f.CameraID)
	}
	if !f.From.IsZero() {
		sb.WriteString(" AND " + timeCol + " >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		sb.WriteString(" AND " + timeCol + " < ?")
		args = append(args, f.To)
	}

	return sb.String(), args
}

// CountByCriticality returns alert counts per criticality level.
func (s *AlertStore) CountByCriticality(ctx context.Context, orgID int64, filter AggregateFilter) ([]CriticalityCount, error) {
	where, args := filter.clause()
	query := `SELECT criticality, count() FROM alerts WHERE org_id = ?` + where + ` GROUP BY criticality`

	rows, err := s.client.Query(ctx, query, append([]any{orgID}, args...)...)
	if err != nil {
		return nil, WrapQueryError("CountByCriticality", "alerts", err)
	}
	defer rows.Close()

	var counts []CriticalityCount
	for rows.Next() {
		var c CriticalityCount
		var crit string
		if err := rows.Scan(&crit, &c.Count); err != nil {
			return nil, WrapQueryError("CountByCriticality", "alerts", err)
		}
		c.Criticality = schema.Criticality(crit)
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// CountByCamera returns alert counts per camera, highest first.
func (s *AlertStore) CountByCamera(ctx context.Context, orgID int64, filter AggregateFilter) ([]CameraCount, error) {
	where, args := filter.clause()
	query := `SELECT camera_id, count() FROM alerts WHERE org_id = ?` + where +
		` GROUP BY camera_id ORDER BY count() DESC`

	rows, err := s.client.Query(ctx, query, append([]any{orgID}, args...)...)
	if err != nil {
		return nil, WrapQueryError("CountByCamera", "alerts", err)
	}
	defer rows.Close()

	var counts []CameraCount
	for rows.Next() {
		var c CameraCount
		if err := rows.Scan(&c.CameraID, &c.Count); err != nil {
			return nil, WrapQueryError("CountByCamera", "alerts", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// CountByTimeBucket returns alert counts per hour or per day. Hourly counts
// read the alerts_hourly pre-aggregate that the database maintains as rows
// arrive; window edges snap to whole hours there. Daily counts scan the
// base table.
func (s *AlertStore) CountByTimeBucket(ctx context.Context, orgID int64, filter AggregateFilter, bucket string) ([]TimeBucketCount, error) {
	query, args, err := timeBucketQuery(orgID, filter, bucket)
	if err != nil {
		return nil, err
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("CountByTimeBucket", "alerts", err)
	}
	defer rows.Close()

	var counts []TimeBucketCount
	for rows.Next() {
		var c TimeBucketCount
		if err := rows.Scan(&c.Bucket, &c.Count); err != nil {
			return nil, WrapQueryError("CountByTimeBucket", "alerts", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func timeBucketQuery(orgID int64, filter AggregateFilter, bucket string) (string, []any, error) {
	switch bucket {
	case "hour":
		where, args := filter.clauseOn("bucket")
		query := `SELECT bucket, countMerge(total) FROM alerts_hourly WHERE org_id = ?` + where +
			` GROUP BY bucket ORDER BY bucket`
		return query, append([]any{orgID}, args...), nil
	case "day":
		where, args := filter.clause()
		query := `SELECT toStartOfDay(timestamp) AS bucket, count() FROM alerts WHERE org_id = ?` + where +
			` GROUP BY bucket ORDER BY bucket`
		return query, append([]any{orgID}, args...), nil
	default:
		return "", nil, fmt.Errorf("storage: unsupported time bucket %q", bucket)
	}
}

// ListOlderThan returns alerts whose timestamp precedes the cutoff, used by
// the archival job before partitions are dropped.
func (s *AlertStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*schema.Alert, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE timestamp < ? ORDER BY timestamp LIMIT %d`,
		alertColumns, limit)

	rows, err := s.client.Query(ctx, query, cutoff)
	if err != nil {
		return nil, WrapQueryError("ListOlderThan", "alerts", err)
	}
	defer rows.Close()

	var alerts []*schema.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// rowScanner matches the Scan method shared by driver.Row and driver.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*schema.Alert, error) {
	var (
		alert      schema.Alert
		crit       string
		status     string
		metadata   string
		ackedAt    *time.Time
		resolvedAt *time.Time
	)

	err := row.Scan(
		&alert.ID,
		&alert.OrganizationID,
		&alert.RuleID,
		&alert.CameraID,
		&alert.Timestamp,
		&alert.ReceivedAt,
		&crit,
		&status,
		&alert.Detail,
		&metadata,
		&ackedAt,
		&alert.AckedBy,
		&resolvedAt,
		&alert.ResolvedBy,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", "alerts", err)
	}

	alert.Criticality = schema.Criticality(crit)
	alert.Status = schema.AlertStatus(status)
	alert.AckedAt = ackedAt
	alert.ResolvedAt = resolvedAt

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &alert.Metadata); err != nil {
			alert.Metadata = nil
		}
	}

	return &alert, nil
}
