package cloudstorage

import (
	"strings"

	"annotation-backend/internal/database"
)

type Credentials struct {
	Type             string
	Key              string
	SecretKey        string
	SessionToken     string
	AccountName      string
	KeyFilePath      string
	ConnectionString string
}

// ToDB renders the credentials in their stored form: the values relevant for
// the type joined by single spaces.
func (c Credentials) ToDB() string {
	switch c.Type {
	case database.CredentialsKeySecretKeyPair:
		return strings.Join([]string{c.Key, c.SecretKey, c.SessionToken}, " ")
	case database.CredentialsAccountNameTokenPair:
		return strings.Join([]string{c.AccountName, c.SessionToken}, " ")
	case database.CredentialsKeyFilePath:
		return c.KeyFilePath
	case database.CredentialsAnonymousAccess:
		return c.AccountName
	case database.CredentialsConnectionString:
		return c.ConnectionString
	}
	return ""
}

func part(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

func CredentialsFromDB(credentialsType, value string) Credentials {
	c := Credentials{Type: credentialsType}
	switch credentialsType {
	case database.CredentialsKeySecretKeyPair:
		parts := strings.Split(value, " ")
		c.Key, c.SecretKey, c.SessionToken = part(parts, 0), part(parts, 1), part(parts, 2)
	case database.CredentialsAccountNameTokenPair:
		parts := strings.Split(value, " ")
		c.AccountName, c.SessionToken = part(parts, 0), part(parts, 1)
	case database.CredentialsKeyFilePath:
		c.KeyFilePath = value
	case database.CredentialsAnonymousAccess:
		c.AccountName = value
	case database.CredentialsConnectionString:
		c.ConnectionString = value
	}
	return c
}

// Merge applies an update. Empty fields in update keep the current value, and
// fields that do not belong to the resulting type are cleared.
func (c Credentials) Merge(update Credentials) Credentials {
	pick := func(newValue, old string) string {
		if newValue != "" {
			return newValue
		}
		return old
	}

	out := Credentials{Type: pick(update.Type, c.Type)}
	switch out.Type {
	case database.CredentialsAnonymousAccess:
		out.AccountName = pick(update.AccountName, c.AccountName)
	case database.CredentialsKeySecretKeyPair:
		out.Key = pick(update.Key, c.Key)
		out.SecretKey = pick(update.SecretKey, c.SecretKey)
		out.SessionToken = pick(update.SessionToken, c.SessionToken)
	case database.CredentialsAccountNameTokenPair:
		out.AccountName = pick(update.AccountName, c.AccountName)
		out.SessionToken = pick(update.SessionToken, c.SessionToken)
	case database.CredentialsKeyFilePath:
		out.KeyFilePath = pick(update.KeyFilePath, c.KeyFilePath)
	case database.CredentialsConnectionString:
		out.ConnectionString = pick(update.ConnectionString, c.ConnectionString)
	}
	return out
}
