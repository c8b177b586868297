package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"argus-vms/internal/rules"
	"argus-vms/internal/schema"
)

// Store implements rules.Store on Postgres. Rule mutations run inside a
// single transaction so a crash between the rule row and its association rows
// can never leave a half-bound rule behind.
type Store struct {
	client *Client
}

// NewStore creates a catalog Store.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

var _ rules.Store = (*Store)(nil)

const cameraColumns = `id, organization_id, name, location, address, type, status, created_at, updated_at`

// OwnedCameras fetches cameras matching both the ID set and the organization.
func (s *Store) OwnedCameras(ctx context.Context, orgID int64, ids []int64) ([]schema.Camera, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM cameras
		WHERE organization_id = $1 AND id = ANY($2)
		ORDER BY id
	`, cameraColumns)

	rows, err := s.client.db.QueryContext(ctx, query, orgID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("catalog: query cameras: %w", err)
	}
	defer rows.Close()

	var out []schema.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cam)
	}
	return out, rows.Err()
}

// ListCameras fetches every camera belonging to the organization.
func (s *Store) ListCameras(ctx context.Context, orgID int64) ([]schema.Camera, error) {
	query := fmt.Sprintf(`SELECT %s FROM cameras WHERE organization_id = $1 ORDER BY id`, cameraColumns)

	rows, err := s.client.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query cameras: %w", err)
	}
	defer rows.Close()

	var out []schema.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cam)
	}
	return out, rows.Err()
}

// OwnedCamera fetches one camera scoped to the organization.
func (s *Store) OwnedCamera(ctx context.Context, orgID, cameraID int64) (*schema.Camera, error) {
	query := fmt.Sprintf(`SELECT %s FROM cameras WHERE organization_id = $1 AND id = $2`, cameraColumns)

	row := s.client.db.QueryRowContext(ctx, query, orgID, cameraID)
	cam, err := scanCamera(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cam, nil
}

const ruleColumns = `id, organization_id, title, description, criticality, model_name,
	start_time, end_time, days_of_week, status, created_at, updated_at`

// GetRule fetches a rule with its camera set.
func (s *Store) GetRule(ctx context.Context, orgID, ruleID int64) (*schema.AnomalyRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM anomaly_rules WHERE organization_id = $1 AND id = $2`, ruleColumns)

	rule, err := scanRule(s.client.db.QueryRowContext(ctx, query, orgID, ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rules.ErrRuleNotFound
		}
		return nil, err
	}

	cameras, err := s.ruleCameras(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	rule.Cameras = cameras
	return rule, nil
}

// ListRules returns all rules for the organization with cameras populated.
func (s *Store) ListRules(ctx context.Context, orgID int64) ([]schema.AnomalyRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM anomaly_rules WHERE organization_id = $1 ORDER BY id`, ruleColumns)

	rows, err := s.client.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query rules: %w", err)
	}
	defer rows.Close()

	var out []schema.AnomalyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cameras, err := s.ruleCameras(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Cameras = cameras
	}
	return out, nil
}

// InsertRule persists the rule and binds its cameras in one transaction.
func (s *Store) InsertRule(ctx context.Context, rule *schema.AnomalyRule, cameraIDs []int64) (int64, error) {
	var id int64
	err := s.client.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO anomaly_rules (
				organization_id, title, description, criticality, model_name,
				start_time, end_time, days_of_week, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`,
			rule.OrganizationID,
			rule.Title,
			rule.Description,
			string(rule.Criticality),
			rule.ModelName,
			string(rule.StartTime),
			string(rule.EndTime),
			pq.Array(weekdayStrings(rule.DaysOfWeek)),
			string(rule.Status),
			rule.CreatedAt,
			rule.UpdatedAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("catalog: insert rule: %w", err)
		}

		return bindCameras(ctx, tx, id, cameraIDs)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRule persists merged rule fields, locking the row for the
// read-modify-write so concurrent updates to the same rule serialize at the
// store. A rebind replaces the association set wholesale in the same
// transaction.
func (s *Store) UpdateRule(ctx context.Context, rule *schema.AnomalyRule, cameraIDs []int64, rebind bool) error {
	return s.client.withTx(ctx, func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM anomaly_rules WHERE organization_id = $1 AND id = $2 FOR UPDATE`,
			rule.OrganizationID, rule.ID,
		).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return rules.ErrRuleNotFound
			}
			return fmt.Errorf("catalog: lock rule: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE anomaly_rules SET
				title = $1, description = $2, criticality = $3, model_name = $4,
				start_time = $5, end_time = $6, days_of_week = $7, status = $8,
				updated_at = $9
			WHERE id = $10
		`,
			rule.Title,
			rule.Description,
			string(rule.Criticality),
			rule.ModelName,
			string(rule.StartTime),
			string(rule.EndTime),
			pq.Array(weekdayStrings(rule.DaysOfWeek)),
			string(rule.Status),
			rule.UpdatedAt,
			rule.ID,
		)
		if err != nil {
			return fmt.Errorf("catalog: update rule: %w", err)
		}

		if rebind {
			if _, err := tx.ExecContext(ctx, `DELETE FROM rule_cameras WHERE rule_id = $1`, rule.ID); err != nil {
				return fmt.Errorf("catalog: unbind cameras: %w", err)
			}
			return bindCameras(ctx, tx, rule.ID, cameraIDs)
		}
		return nil
	})
}

// DeleteRule clears associations and then destroys the rule row, in that
// order, within one transaction.
func (s *Store) DeleteRule(ctx context.Context, orgID, ruleID int64) error {
	return s.client.withTx(ctx, func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM anomaly_rules WHERE organization_id = $1 AND id = $2 FOR UPDATE`,
			orgID, ruleID,
		).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return rules.ErrRuleNotFound
			}
			return fmt.Errorf("catalog: lock rule: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_cameras WHERE rule_id = $1`, ruleID); err != nil {
			return fmt.Errorf("catalog: unbind cameras: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM anomaly_rules WHERE id = $1`, ruleID); err != nil {
			return fmt.Errorf("catalog: delete rule: %w", err)
		}
		return nil
	})
}

// ruleCameras loads the cameras associated with a rule.
func (s *Store) ruleCameras(ctx context.Context, ruleID int64) ([]schema.Camera, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM cameras c
		JOIN rule_cameras rc ON rc.camera_id = c.id
		WHERE rc.rule_id = $1
		ORDER BY c.id
	`, prefixColumns("c", cameraColumns))

	rows, err := s.client.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query rule cameras: %w", err)
	}
	defer rows.Close()

	var out []schema.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cam)
	}
	return out, rows.Err()
}

// bindCameras writes the association rows for a rule inside tx.
func bindCameras(ctx context.Context, tx *sql.Tx, ruleID int64, cameraIDs []int64) error {
	for _, camID := range cameraIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rule_cameras (rule_id, camera_id) VALUES ($1, $2)`,
			ruleID, camID,
		); err != nil {
			return fmt.Errorf("catalog: bind camera %d: %w", camID, err)
		}
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(sc scanner) (schema.Camera, error) {
	var cam schema.Camera
	var status string
	err := sc.Scan(
		&cam.ID,
		&cam.OrganizationID,
		&cam.Name,
		&cam.Location,
		&cam.Address,
		&cam.Type,
		&status,
		&cam.CreatedAt,
		&cam.UpdatedAt,
	)
	if err != nil {
		return schema.Camera{}, err
	}
	cam.Status = schema.CameraStatus(status)
	return cam, nil
}

func scanRule(sc scanner) (*schema.AnomalyRule, error) {
	var rule schema.AnomalyRule
	var criticality, start, end, status string
	var days pq.StringArray

	err := sc.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Title,
		&rule.Description,
		&criticality,
		&rule.ModelName,
		&start,
		&end,
		&days,
		&status,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Criticality = schema.Criticality(criticality)
	rule.StartTime = schema.TimeOfDay(start)
	rule.EndTime = schema.TimeOfDay(end)
	rule.Status = schema.RuleStatus(status)
	rule.DaysOfWeek = make([]schema.Weekday, 0, len(days))
	for _, d := range days {
		rule.DaysOfWeek = append(rule.DaysOfWeek, schema.Weekday(d))
	}
	return &rule, nil
}

func weekdayStrings(days []schema.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = string(d)
	}
	return out
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
