// Package s3 provides S3 storage for long-term alert archival.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds bucket settings for the archive store. Endpoint and
// UsePathStyle support S3-compatible backends like MinIO; leaving
// credentials empty falls back to the ambient IAM chain.
type Config struct {
	Region               string        `json:"region" yaml:"region"`
	Bucket               string        `json:"bucket" yaml:"bucket"`
	Prefix               string        `json:"prefix" yaml:"prefix"`
	Endpoint             string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKeyID          string        `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey      string        `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken         string        `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	StorageClass         string        `json:"storage_class" yaml:"storage_class"`
	ServerSideEncryption string        `json:"server_side_encryption,omitempty" yaml:"server_side_encryption,omitempty"`
	UsePathStyle         bool          `json:"use_path_style" yaml:"use_path_style"`
	RetryMaxAttempts     int           `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Region:           "us-east-1",
		Bucket:           "argus-vms-archive",
		Prefix:           "alerts/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
		Timeout:          10 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}

// GetStorageClass maps the configured name to the SDK constant,
// defaulting unknown values to STANDARD.
var storageClasses = map[string]types.StorageClass{
	"STANDARD_IA":         types.StorageClassStandardIa,
	"ONEZONE_IA":          types.StorageClassOnezoneIa,
	"INTELLIGENT_TIERING": types.StorageClassIntelligentTiering,
	"GLACIER":             types.StorageClassGlacier,
	"DEEP_ARCHIVE":        types.StorageClassDeepArchive,
	"GLACIER_IR":          types.StorageClassGlacierIr,
}

func (c *Config) GetStorageClass() types.StorageClass {
	if sc, ok := storageClasses[strings.ToUpper(c.StorageClass)]; ok {
		return sc
	}
	return types.StorageClassStandard
}

// Client wraps the AWS SDK for the archiver's object operations. All
// keys are namespaced under the configured prefix.
type Client struct {
	client *s3.Client
	cfg    *Config
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("s3 client initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return &Client{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// UploadInput names an object and its payload.
type UploadInput struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// UploadOutput reports where an upload landed.
type UploadOutput struct {
	Key      string
	ETag     string
	Location string
	Size     int64
}

func (c *Client) Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
	key := c.cfg.Prefix + input.Key
	size := int64(len(input.Body))

	putInput := &s3.PutObjectInput{
		Bucket:       aws.String(c.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(input.Body),
		StorageClass: c.cfg.GetStorageClass(),
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}
	if len(input.Metadata) > 0 {
		putInput.Metadata = input.Metadata
	}
	switch c.cfg.ServerSideEncryption {
	case "AES256":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
	}

	result, err := c.client.PutObject(ctx, putInput)
	if err != nil {
		return nil, fmt.Errorf("s3: upload %s: %w", key, err)
	}

	c.logger.Debug("uploaded object", "key", key, "size", size)

	return &UploadOutput{
		Key:      key,
		ETag:     aws.ToString(result.ETag),
		Location: fmt.Sprintf("s3://%s/%s", c.cfg.Bucket, key),
		Size:     size,
	}, nil
}

func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	fullKey := c.cfg.Prefix + key

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: download %s: %w", fullKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", fullKey, err)
	}
	return data, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	fullKey := c.cfg.Prefix + key

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", fullKey, err)
	}
	return nil
}
