package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrNoBucket = errors.New("storage: no bucket in location and AWS_BUCKET is unset")

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// IsS3 reports whether location uses the s3:// scheme.
func IsS3(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// ParseS3URL splits s3://bucket/key. An empty bucket (s3:///key) falls back
// to AWS_BUCKET.
func ParseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("storage: not an s3 location: %q", location)
	}
	bucket = u.Host
	if bucket == "" {
		bucket = util.GetEnv("AWS_BUCKET")
	}
	if bucket == "" {
		return "", "", ErrNoBucket
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("storage: no object key in %q", location)
	}
	return bucket, key, nil
}

func GetFile(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return buf.Bytes(), nil
}

func PutFile(ctx context.Context, client *s3.Client, bucket, key string, body []byte) error {
	mimeType := mime.TypeByExtension(path.Ext(key))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

// Location reads and writes local paths and s3:// objects. The S3 client
// is created on first use.
type Location struct {
	client *s3.Client
}

// NewLocation returns a Location using client for s3:// paths; client may
// be nil.
func NewLocation(client *s3.Client) *Location {
	return &Location{client: client}
}

func (l *Location) s3(ctx context.Context) (*s3.Client, error) {
	if l.client != nil {
		return l.client, nil
	}
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

func (l *Location) Read(ctx context.Context, location string) ([]byte, error) {
	if !IsS3(location) {
		return os.ReadFile(location)
	}
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, err
	}
	client, err := l.s3(ctx)
	if err != nil {
		return nil, err
	}
	return GetFile(ctx, client, bucket, key)
}

func (l *Location) Write(ctx context.Context, location string, data []byte) error {
	if !IsS3(location) {
		return os.WriteFile(location, data, 0o644)
	}
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return err
	}
	client, err := l.s3(ctx)
	if err != nil {
		return err
	}
	return PutFile(ctx, client, bucket, key, data)
}
