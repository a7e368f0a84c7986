// Package objstore is the S3-compatible object sink. It talks to MinIO in
// development and to any S3 endpoint in production, and guarantees the
// destination bucket exists before writing.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrUnavailable means the store could not be reached or queried;
	// fatal to the current ingestion, never retried here.
	ErrUnavailable = errors.New("object store unavailable")
	// ErrWrite means a put failed after the bucket was confirmed to exist.
	ErrWrite = errors.New("object store write failed")
)

// Config carries the connection settings for the object store. Defaults
// target a local MinIO container.
type Config struct {
	Endpoint  string // host:port, scheme optional
	AccessKey string
	SecretKey string
	Region    string
	PathStyle bool
}

// s3API is the subset of the S3 client the sink uses. Kept narrow so tests
// can substitute a fake.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ s3API = (*s3.Client)(nil)

// Client wraps the S3 API with the bucket-existence and overwrite-by-key
// semantics the pipeline needs.
type Client struct {
	api s3API
}

// New builds a client for the configured endpoint with static credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.PathStyle
	})
	return &Client{api: api}, nil
}

// NewFromAPI wires an arbitrary S3 API implementation (used by tests).
func NewFromAPI(api s3API) *Client {
	return &Client{api: api}
}

// EnsureBucket checks the bucket and creates it on first observed absence.
// Concurrent cold starts may race on creation; a creation conflict is
// benign as long as the bucket exists afterwards, so conflicts trigger a
// recheck instead of failing.
func (c *Client) EnsureBucket(ctx context.Context, name string) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return nil
	}
	if !isBucketNotFound(err) {
		return fmt.Errorf("%w: head bucket %s: %v", ErrUnavailable, name, err)
	}

	_, err = c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return nil
	}
	if isCreateConflict(err) {
		if _, herr := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); herr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: create bucket %s: %v", ErrUnavailable, name, err)
}

// Put uploads the payload under the given key, overwriting any previous
// object so repeated ingestion of the same logical source stays idempotent.
func (c *Client) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", ErrWrite, bucket, key, err)
	}
	return nil
}

func isBucketNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchBucket" || code == "404"
	}
	return false
}

func isCreateConflict(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var exists *types.BucketAlreadyExists
	if errors.As(err, &exists) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
	}
	return false
}
