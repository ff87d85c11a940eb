package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quillcms/quilld/internal/content"
)

// Default environment variable names for S3 credentials when the site
// config does not name its own.
const (
	DefaultS3AccessKeyEnv = "QUILLD_S3_ACCESS_KEY"
	DefaultS3SecretKeyEnv = "QUILLD_S3_SECRET_KEY"
)

// S3Target deploys to an S3-compatible object store through the minio
// client. Path-style addressing is always used so self-hosted stores work
// without wildcard DNS.
type S3Target struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Target builds an S3Target from the site's deploy config. Credentials
// are read from the environment variables the config names.
func NewS3Target(cfg content.S3DeployConfig) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 deployment requires a bucket")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 deployment requires an endpoint")
	}
	accessEnv := cfg.AccessKeyEnv
	if accessEnv == "" {
		accessEnv = DefaultS3AccessKeyEnv
	}
	secretEnv := cfg.SecretKeyEnv
	if secretEnv == "" {
		secretEnv = DefaultS3SecretKeyEnv
	}
	accessKey := os.Getenv(accessEnv)
	secretKey := os.Getenv(secretEnv)
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("s3 credentials missing; set %s and %s", accessEnv, secretEnv)
	}
	options := &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Target{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (t *S3Target) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := t.client.GetObject(ctx, t.bucket, joinPrefix(t.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isS3NotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (t *S3Target) Put(ctx context.Context, key string, data []byte) error {
	_, err := t.client.PutObject(ctx, t.bucket, joinPrefix(t.prefix, key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(key)})
	return err
}

func (t *S3Target) Delete(ctx context.Context, key string) error {
	err := t.client.RemoveObject(ctx, t.bucket, joinPrefix(t.prefix, key), minio.RemoveObjectOptions{})
	if err != nil && !isS3NotFound(err) {
		return err
	}
	return nil
}

func (t *S3Target) Description() string {
	return "s3:" + t.bucket
}

func isS3NotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if !errors.As(err, &errResp) {
		return false
	}
	return errResp.StatusCode == http.StatusNotFound
}
