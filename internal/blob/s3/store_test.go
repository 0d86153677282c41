package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.False(t, isNotFound(errors.New("connection reset")))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(ctx, ClientConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "region")

	_, err = New(ctx, ClientConfig{Bucket: "b", Region: "us-east-1", ServerSideEncryption: "rot13"})
	assert.ErrorContains(t, err, "server_side_encryption")

	c, err := New(ctx, ClientConfig{
		Bucket: "ledger", Region: "us-east-1", Endpoint: "localhost:9000",
		AccessKey: "minio", SecretKey: "minio123", ForcePathStyle: true,
		Prefix: "prod", ServerSideEncryption: "AES256",
	})
	require.NoError(t, err)
	assert.Equal(t, "prod/statements/d1.json", c.key("/statements/d1.json"))
}

func TestPutInputCarriesEncryptionAndChecksum(t *testing.T) {
	s := NewStore(&Client{bucket: "ledger", prefix: "prod/", sse: types.ServerSideEncryptionAwsKms, kmsKey: "alias/ledger"})
	in := s.putInput("statements/d1.json", strings.NewReader("{}"), "application/json")

	assert.Equal(t, "ledger", aws.ToString(in.Bucket))
	assert.Equal(t, "prod/statements/d1.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, types.ChecksumAlgorithmSha256, in.ChecksumAlgorithm)
	assert.Equal(t, types.ServerSideEncryptionAwsKms, in.ServerSideEncryption)
	assert.Equal(t, "alias/ledger", aws.ToString(in.SSEKMSKeyId))

	plain := NewStore(&Client{bucket: "ledger"}).putInput("a", strings.NewReader(""), "")
	assert.Nil(t, plain.ContentType)
	assert.Empty(t, plain.ServerSideEncryption)
	assert.Nil(t, plain.SSEKMSKeyId)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", withScheme("localhost:9000", false))
	assert.Equal(t, "https://minio.internal", withScheme("minio.internal", true))
	assert.Equal(t, "https://s3.example.com", withScheme("https://s3.example.com", false))
}
