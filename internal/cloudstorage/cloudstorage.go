package cloudstorage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"annotation-backend/internal/database"
)

var (
	ErrInvalid             = errors.New("invalid cloud storage")
	ErrUnsupportedProvider = errors.New("unsupported cloud storage provider")
)

type storageError struct {
	kind error
	msg  string
}

func (e *storageError) Error() string {
	return e.msg
}

func (e *storageError) Unwrap() error {
	return e.kind
}

func invalidf(format string, args ...any) error {
	return &storageError{kind: ErrInvalid, msg: fmt.Sprintf(format, args...)}
}

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusNotFound  Status = "NOT_FOUND"
	StatusForbidden Status = "FORBIDDEN"
)

var ProviderTypes = []string{
	database.ProviderAWSS3, database.ProviderAzure, database.ProviderGoogleDrive, database.ProviderGCS,
}

var CredentialsTypes = []string{
	database.CredentialsKeySecretKeyPair, database.CredentialsAccountNameTokenPair,
	database.CredentialsKeyFilePath, database.CredentialsAnonymousAccess, database.CredentialsConnectionString,
}

// Storage is a connected bucket or container.
type Storage interface {
	Name() string

	Status(ctx context.Context) (Status, error)

	FileStatus(ctx context.Context, key string) (Status, error)

	ReadFile(ctx context.Context, key string) ([]byte, error)
}

type Details struct {
	Resource           string
	Credentials        Credentials
	SpecificAttributes map[string]string
}

type Factory func(ctx context.Context, providerType string, details Details) (Storage, error)

// NewStorage is the default Factory.
func NewStorage(ctx context.Context, providerType string, details Details) (Storage, error) {
	switch providerType {
	case database.ProviderAWSS3:
		return NewS3Storage(ctx, details)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerType)
	}
}

func ValidateSpecificAttributes(value string) error {
	if value == "" {
		return nil
	}
	for _, attr := range strings.Split(value, "&") {
		if len(strings.Split(attr, "=")) != 2 {
			return invalidf("Invalid specific attributes")
		}
	}
	return nil
}

func ParseSpecificAttributes(value string) map[string]string {
	attrs := map[string]string{}
	if value == "" {
		return attrs
	}
	for _, attr := range strings.Split(value, "&") {
		k, v, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		if unescaped, err := url.QueryUnescape(v); err == nil {
			v = unescaped
		}
		attrs[k] = v
	}
	return attrs
}

// CheckManifests requires every manifest to be readable in the storage.
func CheckManifests(ctx context.Context, storage Storage, manifests []string) error {
	for _, manifest := range manifests {
		status, err := storage.FileStatus(ctx, manifest)
		if err != nil {
			return fmt.Errorf("error checking manifest %q: %w", manifest, err)
		}
		switch status {
		case StatusNotFound:
			return invalidf("The '%s' file does not exist on '%s' cloud storage", manifest, storage.Name())
		case StatusForbidden:
			return invalidf("The '%s' file does not available on '%s' cloud storage. Access denied", manifest, storage.Name())
		}
	}
	return nil
}

// StatusError converts a non available bucket status into the error reported
// for it. verb is "create" or "update".
func StatusError(status Status, verb string, storage Storage) error {
	switch status {
	case StatusAvailable:
		return nil
	case StatusForbidden:
		return invalidf("Cannot %s resource %s with specified credentials. Access forbidden.", verb, storage.Name())
	default:
		return invalidf("The resource %s not found. It may have been deleted.", storage.Name())
	}
}
