//go:build integration

package integrationtests

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bucketName = "test-bucket"
	manifest   = `{"version":"1.1"}
{"type":"images"}
{"name":"street/000","extension":".jpg","width":640,"height":480}
{"name":"street/001","extension":".jpg","width":640,"height":480}
{"name":"street/002","extension":".png","width":640,"height":480}
`
)

func fillBucket(t *testing.T, ctx context.Context, endpoint string, files map[string]string) {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(minioUsername, minioPassword, ""),
	})

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err)

	for key, body := range files {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(key),
			Body:   strings.NewReader(body),
		})
		require.NoError(t, err)
	}
}

func TestS3Storage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	endpoint := setupMinioContainer(t, ctx)
	fillBucket(t, ctx, endpoint, map[string]string{"manifest.jsonl": manifest})

	details := cloudstorage.Details{
		Resource: bucketName,
		Credentials: cloudstorage.Credentials{
			Type:      database.CredentialsKeySecretKeyPair,
			Key:       minioUsername,
			SecretKey: minioPassword,
		},
		SpecificAttributes: map[string]string{"endpoint_url": endpoint},
	}

	t.Run("Available", func(t *testing.T) {
		storage, err := cloudstorage.NewS3Storage(ctx, details)
		require.NoError(t, err)

		status, err := storage.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, cloudstorage.StatusAvailable, status)

		status, err = storage.FileStatus(ctx, "manifest.jsonl")
		require.NoError(t, err)
		assert.Equal(t, cloudstorage.StatusAvailable, status)

		status, err = storage.FileStatus(ctx, "missing.jsonl")
		require.NoError(t, err)
		assert.Equal(t, cloudstorage.StatusNotFound, status)

		files, err := cloudstorage.ListManifestFiles(ctx, storage, "manifest.jsonl")
		require.NoError(t, err)
		assert.Equal(t, []string{"street/000.jpg", "street/001.jpg", "street/002.png"}, files)
	})

	t.Run("MissingBucket", func(t *testing.T) {
		missing := details
		missing.Resource = "no-such-bucket"
		storage, err := cloudstorage.NewS3Storage(ctx, missing)
		require.NoError(t, err)

		status, err := storage.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, cloudstorage.StatusNotFound, status)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		wrong := details
		wrong.Credentials.SecretKey = "not-the-password"
		storage, err := cloudstorage.NewS3Storage(ctx, wrong)
		require.NoError(t, err)

		status, err := storage.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, cloudstorage.StatusForbidden, status)
	})
}

func TestCloudStorageEndpoints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	endpoint := setupMinioContainer(t, ctx)
	fillBucket(t, ctx, endpoint, map[string]string{"manifest.jsonl": manifest})

	db := createDB(t, ctx)
	client := startServer(t, db, events.NewEmitter(), "alice")

	attributes := "endpoint_url=" + url.QueryEscape(endpoint)
	var storage api.CloudStorage
	res, err := client.R().
		SetBody(api.CloudStorageRequest{
			ProviderType:       database.ProviderAWSS3,
			Resource:           bucketName,
			CredentialsType:    database.CredentialsKeySecretKeyPair,
			Key:                minioUsername,
			SecretKey:          minioPassword,
			SpecificAttributes: &attributes,
			Manifests:          []string{"manifest.jsonl"},
		}).
		SetResult(&storage).
		Post("/api/cloudstorages")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode(), res.String())
	assert.Equal(t, bucketName, storage.DisplayName)

	var status string
	res, err = client.R().SetResult(&status).Get("/api/cloudstorages/" + itoa(storage.Id) + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode(), res.String())
	assert.Equal(t, string(cloudstorage.StatusAvailable), status)

	var content api.CloudStorageContent
	res, err = client.R().SetResult(&content).Get("/api/cloudstorages/" + itoa(storage.Id) + "/content")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode(), res.String())
	assert.Len(t, content.Files, 3)

	res, err = client.R().
		SetBody(api.CloudStorageRequest{Manifests: []string{"absent.jsonl"}}).
		Patch("/api/cloudstorages/" + itoa(storage.Id))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode())
	assert.Contains(t, res.String(), "absent.jsonl")
}
