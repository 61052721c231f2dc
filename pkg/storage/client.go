// Package storage uploads ingestion run reports to S3.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/catvault/catvault/pkg/errors"
)

// putObjectAPI is the subset of the S3 client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	s3Client putObjectAPI
	bucket   string
}

// NewClient creates a new S3 client using the default credential chain
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.E(errors.KindConfiguration, "load AWS config", err)
	}

	slog.Info("s3_client_created", "bucket", bucket)
	return NewClientWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api putObjectAPI, bucket string) *Client {
	return &Client{s3Client: api, bucket: bucket}
}

// UploadResult contains upload metadata
type UploadResult struct {
	Bucket string
	Key    string
	SHA256 string
	Size   int64
}

// Upload stores body under key
func (c *Client) Upload(ctx context.Context, key, contentType string, body []byte) (*UploadResult, error) {
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "size", len(body))

	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"sha256": checksum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.E(errors.KindNetwork, "upload to S3", err)
	}

	slog.Info("s3_upload_complete", "s3_key", key, "sha256", checksum[:16]+"...")
	return &UploadResult{
		Bucket: c.bucket,
		Key:    key,
		SHA256: checksum,
		Size:   int64(len(body)),
	}, nil
}
