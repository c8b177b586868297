package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
	"argus-vms/internal/storage"
)

// AlertSource provides aggregation queries over stored alerts. Totals are
// folded from the criticality breakdown, so no separate count query exists.
type AlertSource interface {
	CountByCriticality(ctx context.Context, orgID int64, filter storage.AggregateFilter) ([]storage.CriticalityCount, error)
	CountByCamera(ctx context.Context, orgID int64, filter storage.AggregateFilter) ([]storage.CameraCount, error)
	CountByTimeBucket(ctx context.Context, orgID int64, filter storage.AggregateFilter, bucket string) ([]storage.TimeBucketCount, error)
}

// CameraDirectory resolves cameras and their live status for an organization.
type CameraDirectory interface {
	ListCameras(ctx context.Context, orgID int64) ([]schema.Camera, error)
	OwnedCamera(ctx context.Context, orgID, cameraID int64) (*schema.Camera, error)
}

// Config holds aggregator settings.
type Config struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	DefaultWindow time.Duration `yaml:"default_window"`
	DefaultBucket string        `yaml:"default_bucket"`
}

// DefaultConfig returns the default aggregator settings.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      30 * time.Second,
		DefaultWindow: 24 * time.Hour,
		DefaultBucket: "hour",
	}
}

// CameraStats pairs a camera with its alert counts. Camera status reflects
// the catalog at query time, not at alert time.
type CameraStats struct {
	Camera schema.CameraSummary `json:"camera"`
	Status schema.CameraStatus  `json:"status"`
	Total  uint64               `json:"total"`

	ByCriticality map[schema.Criticality]uint64 `json:"by_criticality,omitempty"`
}

// OrgStats is an aggregated snapshot for one organization.
type OrgStats struct {
	OrganizationID int64     `json:"organization_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Bucket         string    `json:"bucket"`

	Total         uint64                        `json:"total"`
	ByCriticality map[schema.Criticality]uint64 `json:"by_criticality"`
	Cameras       []CameraStats                 `json:"cameras"`
	Timeline      []storage.TimeBucketCount     `json:"timeline"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Query selects the aggregation window. Zero values fall back to the
// configured defaults.
type Query struct {
	From   time.Time
	To     time.Time
	Bucket string
}

// Aggregator computes org and camera alert statistics with a short-lived
// cache in front of the alert store.
type Aggregator struct {
	alerts  AlertSource
	cameras CameraDirectory
	cache   Cache
	config  Config
	now     func() time.Time
}

// NewAggregator creates an Aggregator. The cache may be nil, in which case
// every query hits the alert store.
func NewAggregator(alerts AlertSource, cameras CameraDirectory, cache Cache, cfg Config) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 24 * time.Hour
	}
	if cfg.DefaultBucket == "" {
		cfg.DefaultBucket = "hour"
	}

	return &Aggregator{
		alerts:  alerts,
		cameras: cameras,
		cache:   cache,
		config:  cfg,
		now:     time.Now,
	}
}

// OrgStats returns aggregated alert counts for the organization, correlated
// with the current camera catalog.
func (a *Aggregator) OrgStats(ctx context.Context, orgID int64, q Query) (*OrgStats, error) {
	from, to, bucket, err := a.normalize(q)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("stats:v1:org:%d:%d:%d:%s", orgID, from.Unix(), to.Unix(), bucket)
	if cached, ok := a.fromCache(ctx, key); ok {
		return cached, nil
	}

	filter := storage.AggregateFilter{From: from, To: to}

	byCrit, err := a.alerts.CountByCriticality(ctx, orgID, filter)
	if err != nil {
		return nil, statsErr(err)
	}

	byCamera, err := a.alerts.CountByCamera(ctx, orgID, filter)
	if err != nil {
		return nil, statsErr(err)
	}

	timeline, err := a.alerts.CountByTimeBucket(ctx, orgID, filter, bucket)
	if err != nil {
		return nil, statsErr(err)
	}

	cameras, err := a.cameras.ListCameras(ctx, orgID)
	if err != nil {
		return nil, statsErr(err)
	}

	snapshot := &OrgStats{
		OrganizationID: orgID,
		From:           from,
		To:             to,
		Bucket:         bucket,
		ByCriticality:  make(map[schema.Criticality]uint64, len(byCrit)),
		Timeline:       timeline,
		GeneratedAt:    a.now().UTC(),
	}

	// The total is folded from the criticality buckets so the figures in one
	// snapshot always agree with each other.
	for _, c := range byCrit {
		snapshot.ByCriticality[c.Criticality] = c.Count
		snapshot.Total += c.Count
	}

	snapshot.Cameras = correlateCameras(cameras, byCamera)

	a.toCache(ctx, key, snapshot)
	return snapshot, nil
}

// CameraStats returns alert counts for a single camera. The camera must
// belong to the organization; a missing or foreign camera is reported
// identically.
func (a *Aggregator) CameraStats(ctx context.Context, orgID, cameraID int64, q Query) (*CameraStats, error) {
	from, to, _, err := a.normalize(q)
	if err != nil {
		return nil, err
	}

	camera, err := a.cameras.OwnedCamera(ctx, orgID, cameraID)
	if err != nil {
		return nil, statsErr(err)
	}
	if camera == nil {
		return nil, apperr.E(apperr.KindNotFoundOrForbidden, "camera not found")
	}

	filter := storage.AggregateFilter{CameraID: cameraID, From: from, To: to}
	byCrit, err := a.alerts.CountByCriticality(ctx, orgID, filter)
	if err != nil {
		return nil, statsErr(err)
	}

	out := &CameraStats{
		Camera:        camera.Summary(),
		Status:        camera.Status,
		ByCriticality: make(map[schema.Criticality]uint64, len(byCrit)),
	}
	for _, c := range byCrit {
		out.ByCriticality[c.Criticality] = c.Count
		out.Total += c.Count
	}

	return out, nil
}

// correlateCameras joins per-camera alert counts with the catalog. Cameras
// with no alerts in the window appear with a zero count; counts for cameras
// that have since been removed from the catalog are kept with a bare ID.
func correlateCameras(cameras []schema.Camera, counts []storage.CameraCount) []CameraStats {
	byID := make(map[int64]uint64, len(counts))
	for _, c := range counts {
		byID[c.CameraID] = c.Count
	}

	out := make([]CameraStats, 0, len(cameras))
	seen := make(map[int64]bool, len(cameras))
	for _, cam := range cameras {
		seen[cam.ID] = true
		out = append(out, CameraStats{
			Camera: cam.Summary(),
			Status: cam.Status,
			Total:  byID[cam.ID],
		})
	}

	for _, c := range counts {
		if !seen[c.CameraID] {
			out = append(out, CameraStats{
				Camera: schema.CameraSummary{ID: c.CameraID},
				Total:  c.Count,
			})
		}
	}

	return out
}

func (a *Aggregator) normalize(q Query) (from, to time.Time, bucket string, err error) {
	to = q.To
	if to.IsZero() {
		to = a.now().UTC()
	}
	from = q.From
	if from.IsZero() {
		from = to.Add(-a.config.DefaultWindow)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, "", apperr.InvalidInput("time range start %s is not before end %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	bucket = q.Bucket
	if bucket == "" {
		bucket = a.config.DefaultBucket
	}
	if bucket != "hour" && bucket != "day" {
		return time.Time{}, time.Time{}, "", apperr.InvalidInput("unsupported bucket %q, expected hour or day", bucket)
	}

	return from, to, bucket, nil
}

func (a *Aggregator) fromCache(ctx context.Context, key string) (*OrgStats, bool) {
	if a.cache == nil {
		return nil, false
	}

	data, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("stats cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var snapshot OrgStats
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false
	}
	return &snapshot, true
}

func (a *Aggregator) toCache(ctx context.Context, key string, snapshot *OrgStats) {
	if a.cache == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, data, a.config.CacheTTL); err != nil {
		slog.Warn("stats cache write failed", "key", key, "error", err)
	}
}

func statsErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindUnavailable, "stats query timed out", err)
	}
	return apperr.Wrap(apperr.KindInternal, "stats query failed", err)
}
