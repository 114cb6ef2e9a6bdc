package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 backend. Credentials come from the default AWS
// chain (AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY, shared config, IAM role).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BlobStore keeps artifacts as objects in a single bucket; keys map to
// object keys directly.
type S3BlobStore struct {
	client s3API
	bucket string
}

const (
	metaFileName   = "file-name"
	metaCaseNumber = "case-number"
	metaCreatedBy  = "created-by"
	metaHash       = "sha256"
)

func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3BlobStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	// Create-only: signed documents are never overwritten in place.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &meta.Key}); err == nil {
		return nil, ErrBlobExists
	}

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &meta.Key,
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			metaFileName:   meta.FileName,
			metaCaseNumber: meta.CaseNumber,
			metaCreatedBy:  meta.CreatedBy,
			metaHash:       hash,
		},
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.Key, err)
	}

	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()
	return &meta, nil
}

func (s *S3BlobStore) Download(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}

	meta := &BlobMetadata{
		Key:        key,
		FileName:   out.Metadata[metaFileName],
		CaseNumber: out.Metadata[metaCaseNumber],
		CreatedBy:  out.Metadata[metaCreatedBy],
		Hash:       out.Metadata[metaHash],
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		meta.CreatedAt = out.LastModified.UTC()
	}
	return out.Body, meta, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("head object %s: %w", key, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
