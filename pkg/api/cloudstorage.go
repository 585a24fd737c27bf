package api

import "time"

type CloudStorage struct {
	Id                 int        `json:"id"`
	ProviderType       string     `json:"provider_type"`
	Resource           string     `json:"resource"`
	DisplayName        string     `json:"display_name"`
	Owner              *BasicUser `json:"owner"`
	CredentialsType    string     `json:"credentials_type"`
	SpecificAttributes string     `json:"specific_attributes"`
	Description        string     `json:"description"`
	Manifests          []string   `json:"manifests"`
	Organization       *int       `json:"organization"`
	CreatedDate        time.Time  `json:"created_date"`
	UpdatedDate        time.Time  `json:"updated_date"`
}

// CloudStorageRequest is shared by create and patch. On patch, empty fields
// keep their stored value.
type CloudStorageRequest struct {
	ProviderType       string   `json:"provider_type"`
	Resource           string   `json:"resource"`
	DisplayName        string   `json:"display_name"`
	CredentialsType    string   `json:"credentials_type"`
	SessionToken       string   `json:"session_token"`
	Key                string   `json:"key"`
	SecretKey          string   `json:"secret_key"`
	AccountName        string   `json:"account_name"`
	ConnectionString   string   `json:"connection_string"`
	KeyFilePath        string   `json:"key_file_path"`
	SpecificAttributes *string  `json:"specific_attributes"`
	Description        *string  `json:"description"`
	Manifests          []string `json:"manifests"`
}

type CloudStorageContent struct {
	Manifest string   `json:"manifest"`
	Files    []string `json:"files"`
}
