package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

var storageLocations = []string{database.LocationLocal, database.LocationCloudStorage}

func checkCloudStorageExists(txn *gorm.DB, id int) error {
	var count int64
	if err := txn.Model(&database.CloudStorage{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("error checking cloud storage %d: %w", id, err)
	}
	if count == 0 {
		return CodedErrorf(http.StatusBadRequest, "The specified cloud storage %d does not exist.", id)
	}
	return nil
}

func validateStorageRequest(req *api.StorageRequest) error {
	if req != nil && req.Location != "" && !slices.Contains(storageLocations, req.Location) {
		return CodedErrorf(http.StatusBadRequest, "location: \"%s\" is not a valid choice.", req.Location)
	}
	return nil
}

// createRelatedStorage stores a source or target storage configuration. A nil
// request leaves the storage unset.
func createRelatedStorage(txn *gorm.DB, req *api.StorageRequest) (*int, error) {
	if req == nil {
		return nil, nil
	}
	if err := validateStorageRequest(req); err != nil {
		return nil, err
	}
	if req.CloudStorageId != nil {
		if err := checkCloudStorageExists(txn, *req.CloudStorageId); err != nil {
			return nil, err
		}
	}

	storage := database.Storage{Location: req.Location, CloudStorageId: req.CloudStorageId}
	if storage.Location == "" {
		storage.Location = database.LocationLocal
	}
	if err := txn.Create(&storage).Error; err != nil {
		return nil, fmt.Errorf("error creating storage: %w", err)
	}
	return &storage.Id, nil
}

// updateRelatedStorage merges req into the storage currentId points to. A new
// location without a cloud storage id clears the stored one.
func updateRelatedStorage(txn *gorm.DB, currentId *int, req *api.StorageRequest) (*int, error) {
	if req == nil {
		return currentId, nil
	}
	if currentId == nil {
		return createRelatedStorage(txn, req)
	}
	if err := validateStorageRequest(req); err != nil {
		return nil, err
	}

	var storage database.Storage
	if err := txn.First(&storage, "id = ?", *currentId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return createRelatedStorage(txn, req)
		}
		return nil, fmt.Errorf("error loading storage %d: %w", *currentId, err)
	}

	switch {
	case req.CloudStorageId != nil:
		storage.CloudStorageId = req.CloudStorageId
	case req.Location != "":
		storage.CloudStorageId = nil
	}
	if req.Location != "" {
		storage.Location = req.Location
	}

	if storage.CloudStorageId != nil {
		if err := checkCloudStorageExists(txn, *storage.CloudStorageId); err != nil {
			return nil, err
		}
	}

	if err := txn.Save(&storage).Error; err != nil {
		return nil, fmt.Errorf("error updating storage %d: %w", storage.Id, err)
	}
	return &storage.Id, nil
}

func deleteStorages(txn *gorm.DB, ids ...*int) error {
	for _, id := range ids {
		if id == nil {
			continue
		}
		if err := txn.Delete(&database.Storage{}, *id).Error; err != nil {
			return fmt.Errorf("error deleting storage %d: %w", *id, err)
		}
	}
	return nil
}

func checkUserExists(txn *gorm.DB, field string, id *int) error {
	if id == nil {
		return nil
	}
	var count int64
	if err := txn.Model(&database.User{}).Where("id = ?", *id).Count(&count).Error; err != nil {
		return fmt.Errorf("error checking user %d: %w", *id, err)
	}
	if count == 0 {
		return CodedErrorf(http.StatusBadRequest, "%s: Invalid pk \"%d\" - object does not exist.", field, *id)
	}
	return nil
}
