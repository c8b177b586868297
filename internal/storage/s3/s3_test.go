package s3

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"argus-vms/internal/schema"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Region != "us-east-1" {
		t.Errorf("Region = %q, want us-east-1", cfg.Region)
	}
	if cfg.Bucket == "" {
		t.Error("Bucket should have a default")
	}
	if cfg.StorageClass != "INTELLIGENT_TIERING" {
		t.Errorf("StorageClass = %q, want INTELLIGENT_TIERING", cfg.StorageClass)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing region",
			mutate:  func(c *Config) { c.Region = "" },
			wantErr: true,
		},
		{
			name:    "missing bucket",
			mutate:  func(c *Config) { c.Bucket = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetStorageClass(t *testing.T) {
	tests := []struct {
		in   string
		want types.StorageClass
	}{
		{"STANDARD", types.StorageClassStandard},
		{"intelligent_tiering", types.StorageClassIntelligentTiering},
		{"GLACIER", types.StorageClassGlacier},
		{"DEEP_ARCHIVE", types.StorageClassDeepArchive},
		{"bogus", types.StorageClassStandard},
		{"", types.StorageClassStandard},
	}

	for _, tt := range tests {
		cfg := &Config{StorageClass: tt.in}
		if got := cfg.GetStorageClass(); got != tt.want {
			t.Errorf("GetStorageClass(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompressRoundTrip(t *testing.T) {
	a := &Archiver{config: &ArchiverConfig{Compression: CompressionGzip}}
	original := []byte(strings.Repeat("alert-line\n", 200))

	compressed, err := a.compress(original)
	if err != nil {
		t.Fatalf("compress() error = %v", err)
	}
	if len(compressed) >= len(original) {
		t.Errorf("compressed size %d should be smaller than original %d", len(compressed), len(original))
	}

	restored, err := decompress(compressed, CompressionGzip)
	if err != nil {
		t.Fatalf("decompress() error = %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Error("round trip did not preserve data")
	}
}

func TestCompressNone(t *testing.T) {
	a := &Archiver{config: &ArchiverConfig{Compression: CompressionNone}}
	data := []byte("unchanged")

	out, err := a.compress(data)
	if err != nil {
		t.Fatalf("compress() error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("compression none should pass data through")
	}
}

func TestCompressUnsupported(t *testing.T) {
	a := &Archiver{config: &ArchiverConfig{Compression: "zstd"}}
	if _, err := a.compress([]byte("x")); err == nil {
		t.Error("expected error for unsupported compression")
	}
}

func TestPartKey(t *testing.T) {
	a := &Archiver{config: &ArchiverConfig{Compression: CompressionGzip}}
	key := a.partKey("abc-123", 2)

	if !strings.Contains(key, "abc-123-part0002") {
		t.Errorf("key %q missing archive id and padded part number", key)
	}
	if !strings.HasSuffix(key, ".ndjson.gz") {
		t.Errorf("key %q should have .ndjson.gz suffix", key)
	}

	a.config.Compression = CompressionNone
	if key := a.partKey("abc-123", 1); !strings.HasSuffix(key, ".ndjson") {
		t.Errorf("key %q should have .ndjson suffix without compression", key)
	}
}

func TestSplitIntoBatches(t *testing.T) {
	makeAlerts := func(n int) []*schema.Alert {
		alerts := make([]*schema.Alert, n)
		for i := range alerts {
			alerts[i] = &schema.Alert{
				ID:             uuid.New(),
				OrganizationID: 7,
				RuleID:         5,
				CameraID:       1,
				Timestamp:      time.Now(),
				Criticality:    schema.CriticalityLow,
			}
		}
		return alerts
	}

	tests := []struct {
		name      string
		count     int
		batchSize int
		want      int
	}{
		{"fits in one", 5, 10, 1},
		{"exact multiple", 20, 10, 2},
		{"remainder", 25, 10, 3},
		{"zero batch size uses default", 5, 0, 1},
		{"empty input", 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := splitIntoBatches(makeAlerts(tt.count), tt.batchSize)
			if len(batches) != tt.want {
				t.Errorf("got %d batches, want %d", len(batches), tt.want)
			}

			total := 0
			for _, b := range batches {
				total += len(b)
			}
			if total != tt.count {
				t.Errorf("batches hold %d alerts, want %d", total, tt.count)
			}
		})
	}
}

func TestManifestKey(t *testing.T) {
	if got := manifestKey("id-1"); got != "manifests/id-1.json" {
		t.Errorf("manifestKey() = %q", got)
	}
}

func getTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewArchiverDefaults(t *testing.T) {
	a := NewArchiver(nil, DefaultArchiverConfig(), getTestLogger())

	m := a.GetMetrics()
	if m.RecordsArchived != 0 || m.PartsCreated != 0 || m.Errors != 0 {
		t.Errorf("initial metrics should be zero, got %+v", m)
	}
}
