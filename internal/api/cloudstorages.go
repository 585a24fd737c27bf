package api

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"time"

	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CloudStorageFilter struct {
	Pagination
	Id              *int   `schema:"id"`
	ProviderType    string `schema:"provider_type"`
	DisplayName     string `schema:"display_name"`
	Resource        string `schema:"resource"`
	CredentialsType string `schema:"credentials_type"`
	Owner           string `schema:"owner"`
}

var cloudStorageListing = listing{
	sortable: map[string]string{
		"id": "id", "provider_type": "provider_type", "display_name": "display_name",
		"resource": "resource", "credentials_type": "credentials_type",
	},
	search: "display_name",
}

var cloudStoragePreloads = []string{"Owner", "Manifests"}

func (s *BackendService) ListCloudStorages(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[CloudStorageFilter](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context())
	for _, p := range cloudStoragePreloads {
		query = query.Preload(p)
	}
	query = filterEq(query, "id", filter.Id)
	query = filterEq(query, "organization_id", currentOrgId(r))
	query = filterLike(query, "display_name", filter.DisplayName)
	query = filterLike(query, "resource", filter.Resource)
	query = filterUser(query, "owner_id", filter.Owner)
	if filter.ProviderType != "" {
		query = query.Where("provider_type = ?", filter.ProviderType)
	}
	if filter.CredentialsType != "" {
		query = query.Where("credentials_type = ?", filter.CredentialsType)
	}

	return paginate(r, query, filter.Pagination, cloudStorageListing, func(c database.CloudStorage) (api.CloudStorage, error) {
		return convertCloudStorage(c), nil
	})
}

func (s *BackendService) loadCloudStorage(r *http.Request, txn *gorm.DB) (database.CloudStorage, error) {
	storageId, err := URLParamInt(r, "storage_id")
	if err != nil {
		return database.CloudStorage{}, err
	}
	return loadById[database.CloudStorage](txn, "cloud storage", storageId, cloudStoragePreloads...)
}

func (s *BackendService) GetCloudStorage(r *http.Request) (any, error) {
	storage, err := s.loadCloudStorage(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}
	return convertCloudStorage(storage), nil
}

func maxLength(field, value string, limit int) error {
	if len(value) > limit {
		return CodedErrorf(http.StatusBadRequest, "%s: Ensure this field has no more than %d characters.", field, limit)
	}
	return nil
}

func validateCloudStorageRequest(req api.CloudStorageRequest, create bool) error {
	if create {
		if !slices.Contains(cloudstorage.ProviderTypes, req.ProviderType) {
			return CodedErrorf(http.StatusBadRequest, "provider_type: \"%s\" is not a valid choice.", req.ProviderType)
		}
	}
	if create || req.CredentialsType != "" {
		if !slices.Contains(cloudstorage.CredentialsTypes, req.CredentialsType) {
			return CodedErrorf(http.StatusBadRequest, "credentials_type: \"%s\" is not a valid choice.", req.CredentialsType)
		}
	}
	if create && req.Resource == "" {
		return CodedErrorf(http.StatusBadRequest, "resource: This field is required.")
	}

	for _, check := range []struct {
		field, value string
		limit        int
	}{
		{"resource", req.Resource, 222},
		{"display_name", req.DisplayName, 63},
		{"session_token", req.SessionToken, 440},
		{"key", req.Key, 40},
		{"secret_key", req.SecretKey, 44},
		{"account_name", req.AccountName, 24},
	} {
		if err := maxLength(check.field, check.value, check.limit); err != nil {
			return err
		}
	}

	if req.SpecificAttributes != nil {
		if err := cloudstorage.ValidateSpecificAttributes(*req.SpecificAttributes); err != nil {
			return err
		}
	}
	return nil
}

func requestCredentials(req api.CloudStorageRequest) cloudstorage.Credentials {
	return cloudstorage.Credentials{
		Type:             req.CredentialsType,
		Key:              req.Key,
		SecretKey:        req.SecretKey,
		SessionToken:     req.SessionToken,
		AccountName:      req.AccountName,
		KeyFilePath:      req.KeyFilePath,
		ConnectionString: req.ConnectionString,
	}
}

// connect opens the provider for a stored configuration and requires it to be
// reachable with the given credentials.
func (s *BackendService) connect(r *http.Request, row database.CloudStorage, credentials cloudstorage.Credentials, verb string) (cloudstorage.Storage, error) {
	if row.ProviderType == database.ProviderAzure && credentials.AccountName == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "Account name for Azure container was not specified")
	}

	storage, err := s.storages(r.Context(), row.ProviderType, cloudstorage.Details{
		Resource:           row.Resource,
		Credentials:        credentials,
		SpecificAttributes: cloudstorage.ParseSpecificAttributes(row.SpecificAttributes),
	})
	if err != nil {
		return nil, err
	}

	status, err := storage.Status(r.Context())
	if err != nil {
		return nil, fmt.Errorf("error checking cloud storage status: %w", err)
	}
	if err := cloudstorage.StatusError(status, verb, storage); err != nil {
		return nil, err
	}
	return storage, nil
}

func uniqueManifests(manifests []string) []string {
	var out []string
	for _, m := range manifests {
		if m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *BackendService) CreateCloudStorage(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CloudStorageRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateCloudStorageRequest(req, true); err != nil {
		return nil, err
	}

	credentials := requestCredentials(req)
	now := time.Now().UTC()
	row := database.CloudStorage{
		ProviderType:    req.ProviderType,
		Resource:        req.Resource,
		DisplayName:     cmp.Or(req.DisplayName, req.Resource),
		OwnerId:         currentUserId(r),
		CreatedDate:     now,
		UpdatedDate:     now,
		CredentialsType: req.CredentialsType,
		Credentials:     credentials.ToDB(),
		OrganizationId:  currentOrgId(r),
	}
	if req.SpecificAttributes != nil {
		row.SpecificAttributes = *req.SpecificAttributes
	}
	if req.Description != nil {
		row.Description = *req.Description
	}

	manifests := uniqueManifests(req.Manifests)
	storage, err := s.connect(r, row, credentials, "create")
	if err != nil {
		return nil, err
	}
	if err := cloudstorage.CheckManifests(r.Context(), storage, manifests); err != nil {
		return nil, err
	}
	for _, m := range manifests {
		row.Manifests = append(row.Manifests, database.Manifest{Filename: m})
	}

	if err := s.db.WithContext(r.Context()).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("error creating cloud storage: %w", err)
	}

	row.Owner = currentUser(r)
	result := convertCloudStorage(row)
	s.emitCreated(r, events.ResourceCloudStorage, row.Id, &row.DisplayName, result,
		s.objectContext(r, row.OrganizationId, nil, nil, nil))
	return result, nil
}

func (s *BackendService) PatchCloudStorage(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CloudStorageRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateCloudStorageRequest(req, false); err != nil {
		return nil, err
	}

	var old, result api.CloudStorage
	var row database.CloudStorage
	err = s.transaction(r, func(txn *gorm.DB) error {
		if row, err = s.loadCloudStorage(r, txn); err != nil {
			return err
		}
		old = convertCloudStorage(row)

		credentials := cloudstorage.CredentialsFromDB(row.CredentialsType, row.Credentials).Merge(requestCredentials(req))
		row.CredentialsType = credentials.Type
		row.Credentials = credentials.ToDB()
		// provider_type is fixed at creation and ignored here.
		row.Resource = cmp.Or(req.Resource, row.Resource)
		row.DisplayName = cmp.Or(req.DisplayName, row.DisplayName)
		if req.SpecificAttributes != nil {
			row.SpecificAttributes = *req.SpecificAttributes
		}
		if req.Description != nil {
			row.Description = *req.Description
		}

		storage, err := s.connect(r, row, credentials, "update")
		if err != nil {
			return err
		}

		if req.Manifests != nil {
			requested := uniqueManifests(req.Manifests)
			var kept []database.Manifest
			var removed []int
			for _, m := range row.Manifests {
				if slices.Contains(requested, m.Filename) {
					kept = append(kept, m)
				} else {
					removed = append(removed, m.Id)
				}
			}
			var added []string
			for _, name := range requested {
				if !slices.ContainsFunc(kept, func(m database.Manifest) bool { return m.Filename == name }) {
					added = append(added, name)
				}
			}

			if err := cloudstorage.CheckManifests(r.Context(), storage, added); err != nil {
				return err
			}
			if len(removed) > 0 {
				if err := txn.Delete(&database.Manifest{}, removed).Error; err != nil {
					return fmt.Errorf("error deleting manifests: %w", err)
				}
			}
			for _, name := range added {
				manifest := database.Manifest{Filename: name, CloudStorageId: row.Id}
				if err := txn.Create(&manifest).Error; err != nil {
					return fmt.Errorf("error creating manifest %q: %w", name, err)
				}
				kept = append(kept, manifest)
			}
			row.Manifests = kept
		}

		row.UpdatedDate = time.Now().UTC()
		if err := txn.Omit(clause.Associations).Save(&row).Error; err != nil {
			return fmt.Errorf("error updating cloud storage %d: %w", row.Id, err)
		}
		result = convertCloudStorage(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceCloudStorage, old, result, s.objectContext(r, row.OrganizationId, nil, nil, nil))
	return result, nil
}

func (s *BackendService) DeleteCloudStorage(r *http.Request) (any, error) {
	var row database.CloudStorage
	err := s.transaction(r, func(txn *gorm.DB) error {
		var err error
		if row, err = s.loadCloudStorage(r, txn); err != nil {
			return err
		}
		if err := txn.Model(&database.Storage{}).Where("cloud_storage_id = ?", row.Id).
			Updates(map[string]any{"cloud_storage_id": nil, "location": database.LocationLocal}).Error; err != nil {
			return fmt.Errorf("error detaching storages from cloud storage %d: %w", row.Id, err)
		}
		if err := txn.Model(&database.Data{}).Where("cloud_storage_id = ?", row.Id).Update("cloud_storage_id", nil).Error; err != nil {
			return fmt.Errorf("error detaching data from cloud storage %d: %w", row.Id, err)
		}
		if err := txn.Where("cloud_storage_id = ?", row.Id).Delete(&database.Manifest{}).Error; err != nil {
			return fmt.Errorf("error deleting manifests of cloud storage %d: %w", row.Id, err)
		}
		if err := txn.Delete(&database.CloudStorage{}, row.Id).Error; err != nil {
			return fmt.Errorf("error deleting cloud storage %d: %w", row.Id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceCloudStorage, row.Id, &row.DisplayName, s.objectContext(r, row.OrganizationId, nil, nil, nil))
	return nil, nil
}

func (s *BackendService) openCloudStorage(r *http.Request, row database.CloudStorage) (cloudstorage.Storage, error) {
	return s.storages(r.Context(), row.ProviderType, cloudstorage.Details{
		Resource:           row.Resource,
		Credentials:        cloudstorage.CredentialsFromDB(row.CredentialsType, row.Credentials),
		SpecificAttributes: cloudstorage.ParseSpecificAttributes(row.SpecificAttributes),
	})
}

func (s *BackendService) GetCloudStorageStatus(r *http.Request) (any, error) {
	row, err := s.loadCloudStorage(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}
	storage, err := s.openCloudStorage(r, row)
	if err != nil {
		return nil, err
	}
	status, err := storage.Status(r.Context())
	if err != nil {
		return nil, fmt.Errorf("error checking status of cloud storage %d: %w", row.Id, err)
	}
	return status, nil
}

// GetCloudStorageContent lists the files recorded in one of the storage's
// manifests.
func (s *BackendService) GetCloudStorageContent(r *http.Request) (any, error) {
	row, err := s.loadCloudStorage(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}

	manifest := r.URL.Query().Get("manifest_path")
	if manifest == "" {
		if len(row.Manifests) == 0 {
			return nil, CodedErrorf(http.StatusBadRequest, "There is no manifest file attached to cloud storage %d", row.Id)
		}
		manifest = row.Manifests[0].Filename
	}
	if !slices.ContainsFunc(row.Manifests, func(m database.Manifest) bool { return m.Filename == manifest }) {
		return nil, CodedErrorf(http.StatusNotFound, "The manifest '%s' is not attached to cloud storage %d", manifest, row.Id)
	}

	storage, err := s.openCloudStorage(r, row)
	if err != nil {
		return nil, err
	}
	files, err := cloudstorage.ListManifestFiles(r.Context(), storage, manifest)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}
	return api.CloudStorageContent{Manifest: manifest, Files: files}, nil
}
