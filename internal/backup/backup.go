package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"media-vault/internal/database"
	"media-vault/internal/filesystem"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("backup bucket not configured")

// ObjectPutter is the subset of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures the bucket. Credentials fall back to the default AWS
// chain when AccessKeyID is empty.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"-"`
	SecretAccessKey string        `yaml:"-"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Result describes one uploaded object.
type Result struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	SizeBytes int64  `json:"sizeBytes"`
	ETag      string `json:"etag,omitempty"`
}

// Uploader puts source files into the backup bucket.
type Uploader struct {
	client ObjectPutter
	cfg    Config
	group  singleflight.Group
}

// New builds an Uploader backed by the AWS SDK.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	logging.Info("Backup uploads enabled: bucket=%s endpoint=%s", cfg.Bucket, endpointLabel(cfg.Endpoint))
	return NewWithClient(client, cfg), nil
}

// NewWithClient builds an Uploader around an existing client.
func NewWithClient(client ObjectPutter, cfg Config) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Uploader{client: client, cfg: cfg}
}

func endpointLabel(ep string) string {
	if ep == "" {
		return "aws"
	}
	return ep
}

// ObjectKey returns the bucket key for a media file.
func (u *Uploader) ObjectKey(m *database.MediaFile) string {
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), m.RelPath)
}

// Upload copies m to the bucket. Concurrent uploads of the same file share
// one request.
func (u *Uploader) Upload(ctx context.Context, m *database.MediaFile) (*Result, error) {
	if u == nil || !u.cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	key := u.ObjectKey(m)
	v, err, _ := u.group.Do(key, func() (interface{}, error) {
		return u.put(ctx, key, m)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (u *Uploader) put(ctx context.Context, key string, m *database.MediaFile) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.BackupUploadsTotal.WithLabelValues(status).Inc()
	}()

	f, err := filesystem.OpenWithRetry(m.Path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		Metadata: map[string]string{
			"media-id":     m.ID,
			"content-hash": m.ContentHash,
		},
	}
	if m.MimeType != "" {
		in.ContentType = aws.String(m.MimeType)
	}

	out, err := u.client.PutObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	metrics.BackupBytesTotal.Add(float64(info.Size()))
	logging.Info("Backed up %s to %s/%s (%d bytes) in %v", m.RelPath, u.cfg.Bucket, key, info.Size(), time.Since(start))

	res = &Result{Bucket: u.cfg.Bucket, Key: key, SizeBytes: info.Size()}
	if out != nil && out.ETag != nil {
		res.ETag = strings.Trim(*out.ETag, `"`)
	}
	return res, nil
}
