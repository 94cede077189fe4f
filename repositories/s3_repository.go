package repositories

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vision-adapter-worker/domain"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Repository turns object keys of uploaded machine photos into fetchable
// URLs and archives raw provider output.
type S3Repository struct {
	client     S3API
	presigner  S3Presigner
	bucket     string
	presignTTL time.Duration
}

func NewS3Repository(client *s3.Client, bucket string, presignTTL time.Duration) *S3Repository {
	return newS3Repository(client, s3.NewPresignClient(client), bucket, presignTTL)
}

func newS3Repository(client S3API, presigner S3Presigner, bucket string, presignTTL time.Duration) *S3Repository {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &S3Repository{
		client:     client,
		presigner:  presigner,
		bucket:     bucket,
		presignTTL: presignTTL,
	}
}

// ResolveURL presigns a GET for objectKey in the images bucket.
func (r *S3Repository) ResolveURL(ctx context.Context, objectKey string) (domain.ImageRef, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return "", fmt.Errorf("object key is empty")
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(r.presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s/%s: %w", r.bucket, objectKey, err)
	}
	return domain.ImageRef(req.URL), nil
}

func (r *S3Repository) UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}
