// Package s3blob stores distribution statements and ledger archives in an
// S3-compatible bucket (AWS, MinIO, R2) through AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ClientConfig holds the bucket connection and object placement settings.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for MinIO or R2. A bare host gets
	// http:// or https:// depending on UseSSL.
	Endpoint string
	Region   string
	Bucket   string

	// AccessKey and SecretKey select static credentials; empty falls back
	// to the default AWS chain.
	AccessKey string
	SecretKey string

	UseSSL         bool
	ForcePathStyle bool

	// Prefix is prepended to every object key, e.g. "prod/".
	Prefix string

	// ServerSideEncryption is "", "AES256" or "aws:kms". KMSKeyID selects
	// the key for aws:kms.
	ServerSideEncryption string
	KMSKeyID             string
}

// Client holds the SDK client and where objects go.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
	sse    types.ServerSideEncryption
	kmsKey string
}

// New creates a Client. It does not contact the bucket; call Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}
	sse, err := parseSSE(cfg.ServerSideEncryption)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: prefix,
		sse:    sse,
		kmsKey: cfg.KMSKeyID,
	}, nil
}

// Health checks that the bucket exists and is reachable with the configured
// credentials.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// key maps a logical path to its object key.
func (c *Client) key(path string) string {
	return c.prefix + strings.TrimPrefix(path, "/")
}

func parseSSE(s string) (types.ServerSideEncryption, error) {
	switch types.ServerSideEncryption(s) {
	case "":
		return "", nil
	case types.ServerSideEncryptionAes256, types.ServerSideEncryptionAwsKms:
		return types.ServerSideEncryption(s), nil
	default:
		return "", fmt.Errorf("s3blob: unsupported server_side_encryption %q", s)
	}
}

func withScheme(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
