package blobsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kraklabs/lora-orchestrator/internal/resilience"
)

// S3Config configures the S3/MinIO-compatible blob source. Endpoint is
// optional; when set, the client talks to that endpoint instead of AWS S3,
// which is how MinIO is served.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Layout          Layout
	UsePathStyle    bool
}

// S3 is an S3-API-compatible Source, backing both AWS S3 and MinIO
// deployments.
type S3 struct {
	client *s3.Client
	bucket string
	layout Layout
	retry  resilience.Policy
}

// NewS3 builds an S3-backed Source from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrIoError, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	p := resilience.DefaultPolicy()
	p.NonRetryable = IsNonRetryable

	return &S3{client: client, bucket: cfg.Bucket, layout: cfg.Layout, retry: p}, nil
}

// bucketAndPrefix resolves the logical (bucket, key prefix) for userID under
// the configured layout.
func (s *S3) bucketAndPrefix(userID string) (bucket, prefix string) {
	if s.layout == LayoutBucketPerUser {
		return userID, ""
	}
	return s.bucket, userID + "/"
}

func (s *S3) List(ctx context.Context, userID string) ([]Object, error) {
	return resilience.WithRetryValue(ctx, s.retry, "blobsource.s3.list", func(ctx context.Context) ([]Object, error) {
		return s.listOnce(ctx, userID)
	})
}

func (s *S3) listOnce(ctx context.Context, userID string) ([]Object, error) {
	bucket, prefix := s.bucketAndPrefix(userID)

	var objects []Object
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list %s/%s: %v", ErrIoError, bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" {
				continue
			}
			objects = append(objects, Object{
				Key:         rel,
				Fingerprint: strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:        aws.ToInt64(obj.Size),
			})
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoBundle, userID)
	}
	return objects, nil
}

func (s *S3) Materialize(ctx context.Context, userID string, destDir string) error {
	return resilience.WithRetry(ctx, s.retry, "blobsource.s3.materialize", func(ctx context.Context) error {
		return s.materializeOnce(ctx, userID, destDir)
	})
}

func (s *S3) materializeOnce(ctx context.Context, userID, destDir string) error {
	objects, err := s.listOnce(ctx, userID)
	if err != nil {
		return err
	}

	bucket, prefix := s.bucketAndPrefix(userID)
	for _, o := range objects {
		if err := s.downloadOne(ctx, bucket, prefix+o.Key, destDir, o.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) downloadOne(ctx context.Context, bucket, key, destDir, baseName string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: get %s/%s: %v", ErrIoError, bucket, key, err)
	}
	defer out.Body.Close()

	return writeObjectBody(destDir, baseName, out.Body)
}
