package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"argus-vms/internal/schema"
)

// CompressionType defines compression algorithms for archive parts.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
)

// ArchiveManifest contains metadata about an archived alert set.
type ArchiveManifest struct {
	ID           string          `json:"archive_id"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	TotalRecords int64           `json:"total_records"`
	TotalBytes   int64           `json:"total_bytes"`
	Compression  CompressionType `json:"compression"`
	Parts        []ArchivePart   `json:"parts"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ArchivePart represents a part of a multi-part archive.
type ArchivePart struct {
	PartNumber  int    `json:"part_number"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	RecordCount int64  `json:"record_count"`
}

// ArchiverConfig configures the archiver.
type ArchiverConfig struct {
	// BatchSize is the number of alerts per archive part.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Compression algorithm to use.
	Compression CompressionType `json:"compression" yaml:"compression"`
}

// DefaultArchiverConfig returns default archiver configuration.
func DefaultArchiverConfig() *ArchiverConfig {
	return &ArchiverConfig{
		BatchSize:   10000,
		Compression: CompressionGzip,
	}
}

type archiverMetrics struct {
	recordsArchived atomic.Int64
	bytesArchived   atomic.Int64
	partsCreated    atomic.Int64
	errors          atomic.Int64
}

// Archiver writes aged-out alerts to S3 as compressed newline-delimited JSON.
type Archiver struct {
	client  *Client
	config  *ArchiverConfig
	logger  *slog.Logger
	metrics *archiverMetrics
}

// NewArchiver creates a new archiver.
func NewArchiver(client *Client, cfg *ArchiverConfig, logger *slog.Logger) *Archiver {
	return &Archiver{
		client:  client,
		config:  cfg,
		logger:  logger,
		metrics: &archiverMetrics{},
	}
}

// Archive uploads a set of alerts and a manifest describing them.
func (a *Archiver) Archive(ctx context.Context, alerts []*schema.Alert) (*ArchiveManifest, error) {
	if len(alerts) == 0 {
		return nil, nil
	}

	archiveID := uuid.New().String()
	now := time.Now().UTC()

	startTime := alerts[0].Timestamp
	endTime := alerts[0].Timestamp
	for _, alert := range alerts {
		if alert.Timestamp.Before(startTime) {
			startTime = alert.Timestamp
		}
		if alert.Timestamp.After(endTime) {
			endTime = alert.Timestamp
		}
	}

	manifest := &ArchiveManifest{
		ID:           archiveID,
		StartTime:    startTime,
		EndTime:      endTime,
		TotalRecords: int64(len(alerts)),
		Compression:  a.config.Compression,
		CreatedAt:    now,
		Parts:        []ArchivePart{},
	}

	batches := splitIntoBatches(alerts, a.config.BatchSize)
	for i, batch := range batches {
		part, err := a.archivePart(ctx, archiveID, batch, i+1)
		if err != nil {
			a.metrics.errors.Add(1)
			return nil, fmt.Errorf("s3: failed to archive part %d: %w", i+1, err)
		}
		manifest.Parts = append(manifest.Parts, *part)
		manifest.TotalBytes += part.Size
	}

	if err := a.uploadManifest(ctx, manifest); err != nil {
		return nil, fmt.Errorf("s3: failed to upload manifest: %w", err)
	}

	a.metrics.recordsArchived.Add(int64(len(alerts)))
	a.metrics.partsCreated.Add(int64(len(batches)))

	a.logger.Info("archived alerts",
		"archive_id", archiveID,
		"records", len(alerts),
		"parts", len(batches),
		"bytes", manifest.TotalBytes,
	)

	return manifest, nil
}

func splitIntoBatches(alerts []*schema.Alert, batchSize int) [][]*schema.Alert {
	if batchSize <= 0 {
		batchSize = 10000
	}

	var batches [][]*schema.Alert
	for start := 0; start < len(alerts); start += batchSize {
		end := start + batchSize
		if end > len(alerts) {
			end = len(alerts)
		}
		batches = append(batches, alerts[start:end])
	}

	return batches
}

func (a *Archiver) archivePart(ctx context.Context, archiveID string, alerts []*schema.Alert, partNum int) (*ArchivePart, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, alert := range alerts {
		if err := enc.Encode(alert); err != nil {
			return nil, fmt.Errorf("failed to encode alert %s: %w", alert.ID, err)
		}
	}

	data, err := a.compress(buf.Bytes())
	if err != nil {
		return nil, err
	}

	key := a.partKey(archiveID, partNum)
	out, err := a.client.Upload(ctx, &UploadInput{
		Key:         key,
		Body:        data,
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"archive-id":  archiveID,
			"part-number": fmt.Sprintf("%d", partNum),
			"compression": string(a.config.Compression),
		},
	})
	if err != nil {
		return nil, err
	}

	a.metrics.bytesArchived.Add(out.Size)

	return &ArchivePart{
		PartNumber:  partNum,
		Key:         key,
		Size:        out.Size,
		RecordCount: int64(len(alerts)),
	}, nil
}

func (a *Archiver) compress(data []byte) ([]byte, error) {
	switch a.config.Compression {
	case CompressionGzip:
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionNone, "":
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", a.config.Compression)
	}
}

func decompress(data []byte, compression CompressionType) ([]byte, error) {
	switch compression {
	case CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader failed: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case CompressionNone, "":
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compression)
	}
}

func (a *Archiver) partKey(archiveID string, partNum int) string {
	date := time.Now().UTC().Format("2006/01/02")
	ext := ".ndjson"
	if a.config.Compression == CompressionGzip {
		ext += ".gz"
	}
	return fmt.Sprintf("%s/%s-part%04d%s", date, archiveID, partNum, ext)
}

func manifestKey(archiveID string) string {
	return fmt.Sprintf("manifests/%s.json", archiveID)
}

func (a *Archiver) uploadManifest(ctx context.Context, manifest *ArchiveManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	_, err = a.client.Upload(ctx, &UploadInput{
		Key:         manifestKey(manifest.ID),
		Body:        data,
		ContentType: "application/json",
	})
	return err
}

// Restore downloads all parts of an archive and decodes the alerts.
func (a *Archiver) Restore(ctx context.Context, archiveID string) ([]*schema.Alert, error) {
	manifest, err := a.GetManifest(ctx, archiveID)
	if err != nil {
		return nil, err
	}

	var alerts []*schema.Alert
	for _, part := range manifest.Parts {
		data, err := a.client.Download(ctx, part.Key)
		if err != nil {
			return nil, fmt.Errorf("s3: failed to download part %d: %w", part.PartNumber, err)
		}

		raw, err := decompress(data, manifest.Compression)
		if err != nil {
			return nil, fmt.Errorf("s3: failed to decompress part %d: %w", part.PartNumber, err)
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		for dec.More() {
			var alert schema.Alert
			if err := dec.Decode(&alert); err != nil {
				return nil, fmt.Errorf("s3: failed to decode alert in part %d: %w", part.PartNumber, err)
			}
			alerts = append(alerts, &alert)
		}
	}

	a.logger.Info("restored archive", "archive_id", archiveID, "records", len(alerts))
	return alerts, nil
}

// GetManifest downloads and decodes an archive manifest.
func (a *Archiver) GetManifest(ctx context.Context, archiveID string) (*ArchiveManifest, error) {
	data, err := a.client.Download(ctx, manifestKey(archiveID))
	if err != nil {
		return nil, fmt.Errorf("s3: failed to download manifest for %s: %w", archiveID, err)
	}

	var manifest ArchiveManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("s3: failed to decode manifest for %s: %w", archiveID, err)
	}

	return &manifest, nil
}

// DeleteArchive removes an archive's parts and manifest.
func (a *Archiver) DeleteArchive(ctx context.Context, archiveID string) error {
	manifest, err := a.GetManifest(ctx, archiveID)
	if err != nil {
		return err
	}

	for _, part := range manifest.Parts {
		if err := a.client.Delete(ctx, part.Key); err != nil {
			return fmt.Errorf("s3: failed to delete part %d: %w", part.PartNumber, err)
		}
	}

	if err := a.client.Delete(ctx, manifestKey(archiveID)); err != nil {
		return fmt.Errorf("s3: failed to delete manifest: %w", err)
	}

	a.logger.Info("deleted archive", "archive_id", archiveID, "parts", len(manifest.Parts))
	return nil
}

// ArchiverMetrics holds archiver operation counters.
type ArchiverMetrics struct {
	RecordsArchived int64 `json:"records_archived"`
	BytesArchived   int64 `json:"bytes_archived"`
	PartsCreated    int64 `json:"parts_created"`
	Errors          int64 `json:"errors"`
}

// GetMetrics returns a snapshot of archiver metrics.
func (a *Archiver) GetMetrics() ArchiverMetrics {
	return ArchiverMetrics{
		RecordsArchived: a.metrics.recordsArchived.Load(),
		BytesArchived:   a.metrics.bytesArchived.Load(),
		PartsCreated:    a.metrics.partsCreated.Load(),
		Errors:          a.metrics.errors.Load(),
	}
}
