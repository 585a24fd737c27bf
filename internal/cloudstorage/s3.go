package cloudstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"annotation-backend/internal/database"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const defaultRegion = "us-east-1"

type S3Storage struct {
	bucket     string
	client     *s3.Client
	downloader *manager.Downloader
}

func NewS3Storage(ctx context.Context, details Details) (*S3Storage, error) {
	region := details.SpecificAttributes["region"]
	if region == "" {
		region = defaultRegion
	}
	endpoint := details.SpecificAttributes["endpoint_url"]

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) { // nolint:staticcheck
		if endpoint != "" {
			return aws.Endpoint{ // nolint:staticcheck
				PartitionID:       "aws",
				URL:               endpoint,
				SigningRegion:     region,
				HostnameImmutable: true,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{} // nolint:staticcheck
	})

	var provider aws.CredentialsProvider
	switch details.Credentials.Type {
	case database.CredentialsKeySecretKeyPair:
		provider = credentials.NewStaticCredentialsProvider(
			details.Credentials.Key, details.Credentials.SecretKey, details.Credentials.SessionToken,
		)
	case database.CredentialsAnonymousAccess:
		provider = aws.AnonymousCredentials{}
	default:
		return nil, fmt.Errorf("%w: credentials type %s for %s", ErrUnsupportedProvider, details.Credentials.Type, database.ProviderAWSS3)
	}

	awsCfg, err := aws_config.LoadDefaultConfig(ctx,
		aws_config.WithRegion(region),
		aws_config.WithEndpointResolverWithOptions(resolver), // nolint:staticcheck
		aws_config.WithCredentialsProvider(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	return &S3Storage{
		bucket:     details.Resource,
		client:     client,
		downloader: manager.NewDownloader(client),
	}, nil
}

func (s *S3Storage) Name() string {
	return s.bucket
}

func statusFromError(err error) (Status, error) {
	if err == nil {
		return StatusAvailable, nil
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusForbidden, http.StatusUnauthorized:
			return StatusForbidden, nil
		case http.StatusNotFound:
			return StatusNotFound, nil
		}
	}
	return "", err
}

func (s *S3Storage) Status(ctx context.Context) (Status, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	status, err := statusFromError(err)
	if err != nil {
		return "", fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	return status, nil
}

func (s *S3Storage) FileStatus(ctx context.Context, key string) (Status, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	status, err := statusFromError(err)
	if err != nil {
		return "", fmt.Errorf("failed to check object s3://%s/%s: %w", s.bucket, key, err)
	}
	return status, nil
}

func (s *S3Storage) ReadFile(ctx context.Context, key string) ([]byte, error) {
	headObj, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object size: %w", err)
	}

	buffer := manager.NewWriteAtBuffer(make([]byte, aws.ToInt64(headObj.ContentLength)))

	_, err = s.downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object s3://%s/%s: %w", s.bucket, key, err)
	}
	slog.Info("object downloaded successfully", "bucket", s.bucket, "key", key)

	return buffer.Bytes(), nil
}
