package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ag-res/reconcile/internal/fsutil"
)

// ObjectPutter is the subset of the S3 client used for publishing.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds the bucket location and optional explicit credentials.
// Without keys the default credential chain is used.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// S3Publisher uploads artifacts with PutObject.
type S3Publisher struct {
	client ObjectPutter
	bucket string
	prefix string
	fs     fsutil.FileSystem
}

// NewS3 builds an S3 client from cfg.
func NewS3(ctx context.Context, cfg S3Config, fsys fsutil.FileSystem) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix, fsys), nil
}

// NewS3WithClient returns a publisher using an existing client.
func NewS3WithClient(client ObjectPutter, bucket, prefix string, fsys fsutil.FileSystem) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix, fs: fsys}
}

// Publish implements Publisher. Locations are s3:// URLs.
func (p *S3Publisher) Publish(ctx context.Context, year int, runID string, artifacts []Artifact) ([]string, error) {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		data, err := p.fs.ReadFile(a.Path)
		if err != nil {
			return out, fmt.Errorf("read artifact: %w", err)
		}
		key, err := runKey(p.prefix, year, runID, a.name())
		if err != nil {
			return out, err
		}
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(a.name())),
			Metadata:    map[string]string{"run-id": runID},
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				opsf("put s3://%s/%s rejected: %s", p.bucket, key, apiErr.ErrorCode())
				return out, fmt.Errorf("put %s: %s: %w", key, apiErr.ErrorCode(), err)
			}
			return out, fmt.Errorf("put %s: %w", key, err)
		}
		loc := fmt.Sprintf("s3://%s/%s", p.bucket, key)
		tracef("uploaded %s (%d bytes)", loc, len(data))
		out = append(out, loc)
	}
	diagf("published %d artifacts to s3://%s/%s", len(out), p.bucket, p.prefix)
	return out, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".hdr", ".tfw":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
