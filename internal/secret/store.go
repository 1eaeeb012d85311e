package secret

import (
	"errors"
	"fmt"
)

// ErrSecretNotFound is returned by Require when a key has no value.
var ErrSecretNotFound = errors.New("secret not found")

// Keys read by crashcounter.
const (
	DBUser          = "CRASHCOUNTER_DB_USER"
	DBPassword      = "CRASHCOUNTER_DB_PASSWORD"
	DBName          = "CRASHCOUNTER_DB_NAME"
	SocrataAppToken = "SOCRATA_APP_TOKEN"
	AirflowUser     = "AIRFLOW_API_USER"
	AirflowPassword = "AIRFLOW_API_PASSWORD"
)

// SecretStore provides a pluggable interface for reading sensitive data
// such as database passwords. The shipped implementation reads environment
// variables, but can be swapped for Vault, a keychain, etc.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Require returns the value of key, or an error wrapping ErrSecretNotFound
// when it is unset or empty.
func Require(s SecretStore, key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	if len(v) == 0 {
		return "", fmt.Errorf("%w: %s is not set in the environment", ErrSecretNotFound, key)
	}
	return string(v), nil
}

// Optional returns the value of key, or "" when it is unset.
func Optional(s SecretStore, key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return string(v), nil
}

// RequireAll resolves every key and reports all missing ones at once.
func RequireAll(s SecretStore, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	var errs []error
	for _, k := range keys {
		v, err := Require(s, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[k] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
