package api_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket serves files from memory. Only the key "good-key" is allowed to
// access it.
type fakeBucket struct {
	name        string
	credentials cloudstorage.Credentials
	files       map[string]string
}

func (b *fakeBucket) Name() string {
	return b.name
}

func (b *fakeBucket) allowed() bool {
	return b.credentials.Type == database.CredentialsAnonymousAccess || b.credentials.Key == "good-key"
}

func (b *fakeBucket) Status(ctx context.Context) (cloudstorage.Status, error) {
	if b.name != "bucket" {
		return cloudstorage.StatusNotFound, nil
	}
	if !b.allowed() {
		return cloudstorage.StatusForbidden, nil
	}
	return cloudstorage.StatusAvailable, nil
}

func (b *fakeBucket) FileStatus(ctx context.Context, key string) (cloudstorage.Status, error) {
	if _, ok := b.files[key]; !ok {
		return cloudstorage.StatusNotFound, nil
	}
	return cloudstorage.StatusAvailable, nil
}

func (b *fakeBucket) ReadFile(ctx context.Context, key string) ([]byte, error) {
	data, ok := b.files[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return []byte(data), nil
}

var bucketFiles = map[string]string{
	"manifest.jsonl": `{"version":"1.1"}
{"type":"images"}
{"name":"frame_000","extension":".jpg","width":10,"height":10}
{"name":"frame_001","extension":".jpg","width":10,"height":10}
`,
	"other.jsonl": `{"version":"1.1"}
{"name":"x","extension":".png"}
`,
}

func fakeStorages(ctx context.Context, providerType string, details cloudstorage.Details) (cloudstorage.Storage, error) {
	if providerType != database.ProviderAWSS3 {
		return nil, fmt.Errorf("%w: %s", cloudstorage.ErrUnsupportedProvider, providerType)
	}
	return &fakeBucket{name: details.Resource, credentials: details.Credentials, files: bucketFiles}, nil
}

func TestCloudStorages(t *testing.T) {
	s := newTestServer(t, fakeStorages)

	request := api.CloudStorageRequest{
		ProviderType:    database.ProviderAWSS3,
		Resource:        "bucket",
		DisplayName:     "Images",
		CredentialsType: database.CredentialsKeySecretKeyPair,
		Key:             "good-key",
		SecretKey:       "secret",
		Manifests:       []string{"manifest.jsonl"},
	}

	var storage api.CloudStorage
	t.Run("Create", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", request)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		storage = decode[api.CloudStorage](t, rec)
		assert.Equal(t, "Images", storage.DisplayName)
		assert.Equal(t, []string{"manifest.jsonl"}, storage.Manifests)
		require.NotNil(t, storage.Owner)
		assert.Equal(t, "alice", storage.Owner.Username)

		created := s.sink.withScope("create:cloudstorage")
		require.Len(t, created, 1)
		assert.Equal(t, "Images", *created[0].ObjName)
	})

	t.Run("CredentialsAreStored", func(t *testing.T) {
		var row database.CloudStorage
		require.NoError(t, s.db.First(&row, "id = ?", storage.Id).Error)
		creds := cloudstorage.CredentialsFromDB(row.CredentialsType, row.Credentials)
		assert.Equal(t, "good-key", creds.Key)
		assert.Equal(t, "secret", creds.SecretKey)
	})

	t.Run("Forbidden", func(t *testing.T) {
		bad := request
		bad.Key = "bad-key"
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Access forbidden")
	})

	t.Run("MissingBucket", func(t *testing.T) {
		missing := request
		missing.Resource = "nope"
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", missing)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "not found")
	})

	t.Run("MissingManifest", func(t *testing.T) {
		withMissing := request
		withMissing.Manifests = []string{"absent.jsonl"}
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", withMissing)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "absent.jsonl")
	})

	t.Run("FieldLengths", func(t *testing.T) {
		long := request
		long.Key = "0123456789012345678901234567890123456789-too-long"
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", long)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		gcs := request
		gcs.ProviderType = database.ProviderGCS
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", gcs)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("AzureNeedsAccountName", func(t *testing.T) {
		azure := request
		azure.ProviderType = database.ProviderAzure
		azure.CredentialsType = database.CredentialsAnonymousAccess
		rec := s.do(t, http.MethodPost, "/api/cloudstorages", "alice", azure)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Account name for Azure container was not specified")
	})

	t.Run("Status", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, path("/api/cloudstorages", storage.Id, "/status"), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(cloudstorage.StatusAvailable), decode[string](t, rec))
	})

	t.Run("Content", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, path("/api/cloudstorages", storage.Id, "/content"), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		content := decode[api.CloudStorageContent](t, rec)
		assert.Equal(t, "manifest.jsonl", content.Manifest)
		assert.Equal(t, []string{"frame_000.jpg", "frame_001.jpg"}, content.Files)

		rec = s.do(t, http.MethodGet, path("/api/cloudstorages", storage.Id, "/content?manifest_path=other.jsonl"), "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("PatchManifests", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/cloudstorages", storage.Id), "alice", api.CloudStorageRequest{
			Manifests: []string{"other.jsonl"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		patched := decode[api.CloudStorage](t, rec)
		assert.Equal(t, []string{"other.jsonl"}, patched.Manifests)

		var manifests int64
		require.NoError(t, s.db.Model(&database.Manifest{}).Where("cloud_storage_id = ?", storage.Id).Count(&manifests).Error)
		assert.Equal(t, int64(1), manifests)

		updates := s.sink.withScope("update:cloudstorage")
		require.NotEmpty(t, updates)
		assert.Equal(t, "manifests", *updates[0].ObjName)
	})

	t.Run("PatchKeepsSecret", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/cloudstorages", storage.Id), "alice", api.CloudStorageRequest{
			DisplayName: "Renamed",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var row database.CloudStorage
		require.NoError(t, s.db.First(&row, "id = ?", storage.Id).Error)
		assert.Equal(t, "Renamed", row.DisplayName)
		assert.Equal(t, "secret", cloudstorage.CredentialsFromDB(row.CredentialsType, row.Credentials).SecretKey)
	})

	t.Run("PatchIgnoresProviderType", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/cloudstorages", storage.Id), "alice", api.CloudStorageRequest{
			ProviderType: database.ProviderAzure,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, database.ProviderAWSS3, decode[api.CloudStorage](t, rec).ProviderType)

		var row database.CloudStorage
		require.NoError(t, s.db.First(&row, "id = ?", storage.Id).Error)
		assert.Equal(t, database.ProviderAWSS3, row.ProviderType)
	})

	t.Run("PatchWithBadKey", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/cloudstorages", storage.Id), "alice", api.CloudStorageRequest{Key: "bad-key"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Cannot update resource")
	})

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/cloudstorages?provider_type="+database.ProviderAWSS3, "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[api.Page[api.CloudStorage]](t, rec).Count)
	})

	t.Run("DeleteDetachesStorages", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/projects", "alice", api.CreateProjectRequest{
			Name:          "p",
			SourceStorage: &api.StorageRequest{Location: database.LocationCloudStorage, CloudStorageId: &storage.Id},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		project := decode[api.Project](t, rec)

		rec = s.do(t, http.MethodDelete, path("/api/cloudstorages", storage.Id), "alice", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodGet, path("/api/projects", project.Id), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		source := decode[api.Project](t, rec).SourceStorage
		require.NotNil(t, source)
		assert.Equal(t, database.LocationLocal, source.Location)
		assert.Nil(t, source.CloudStorageId)
	})
}
