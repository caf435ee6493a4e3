package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBlobNotFound is returned by Blobs.Get for a missing object.
var ErrBlobNotFound = errors.New("blob not found")

// Blobs stores thumbnail bytes outside the database.
type Blobs interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (string, []byte, error)
	Delete(ctx context.Context, key string) error
}

// S3Config contains minimal configuration for creating an S3 client.
// Empty values fall back to the standard AWS config and credential chain.
type S3Config struct {
	Bucket       string
	Region       string
	UsePathStyle bool
}

// S3Blobs keeps thumbnails in a single S3 bucket.
type S3Blobs struct {
	client *s3.Client
	bucket string
}

// NewS3Blobs creates an S3-backed store using the default AWS configuration chain.
func NewS3Blobs(ctx context.Context, cfg S3Config) (*S3Blobs, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("thumbnail bucket is empty")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Blobs{client: c, bucket: cfg.Bucket}, nil
}

func (b *S3Blobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("private, max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *S3Blobs) Get(ctx context.Context, key string) (string, []byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", nil, ErrBlobNotFound
		}
		return "", nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, MaxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", key, err)
	}
	return aws.ToString(out.ContentType), data, nil
}

func (b *S3Blobs) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}
