package secret

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// EnvStore implements SecretStore over process environment variables.
type EnvStore struct{}

// NewEnvStore creates an EnvStore. When dotenv is non-empty and the file
// exists, its variables are loaded first; variables already present in the
// environment take precedence.
func NewEnvStore(dotenv string) (*EnvStore, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	return &EnvStore{}, nil
}

func (EnvStore) Set(key string, value []byte) error {
	return os.Setenv(key, string(value))
}

func (EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return []byte{}, nil
	}
	return []byte(v), nil
}

func (EnvStore) Delete(key string) error {
	return os.Unsetenv(key)
}
