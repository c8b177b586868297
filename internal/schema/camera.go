package schema

import "time"

// Organization is the tenant boundary. Identity is immutable once created;
// every other record carries its organization's ID as a foreign key.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=256"`
	CreatedAt time.Time `json:"created_at"`
}

// CameraStatus is the connectivity status of a camera.
type CameraStatus string

const (
	CameraOnline  CameraStatus = "online"
	CameraOffline CameraStatus = "offline"
)

// IsValid checks if the camera status is a valid value.
func (s CameraStatus) IsValid() bool {
	return s == CameraOnline || s == CameraOffline
}

// Camera belongs to exactly one organization. Rules reference cameras but
// never own them.
type Camera struct {
	ID             int64        `json:"id"`
	OrganizationID int64        `json:"organization_id"`
	Name           string       `json:"name" validate:"required,max=256"`
	Location       string       `json:"location" validate:"max=512"`
	Address        string       `json:"address" validate:"max=512"`
	Type           string       `json:"type" validate:"max=64"`
	Status         CameraStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// CameraSummary is the public-safe subset of camera attributes exposed on
// rule listings. Connectivity status and anything operational stays out.
type CameraSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Address  string `json:"address"`
	Type     string `json:"type"`
}

// Summary returns the public-safe view of the camera.
func (c *Camera) Summary() CameraSummary {
	return CameraSummary{
		ID:       c.ID,
		Name:     c.Name,
		Location: c.Location,
		Address:  c.Address,
		Type:     c.Type,
	}
}
