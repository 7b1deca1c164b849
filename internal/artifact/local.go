package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
)

// LocalStoreConfig contains configuration for filesystem artifact storage
type LocalStoreConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"`
}

// LocalStore implements Store on the local filesystem. References are
// relative paths under the base directory.
type LocalStore struct {
	config *LocalStoreConfig
	logger *logrus.Logger
}

// NewLocalStore creates a new filesystem artifact store
func NewLocalStore(config *LocalStoreConfig, logger *logrus.Logger) (*LocalStore, error) {
	if config == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "LocalStoreConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.CreateDirs {
		if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "MKDIR_FAILED",
				"failed to create artifact directory")
		}
	}

	return &LocalStore{config: config, logger: logger}, nil
}

// Resolve reports whether the artifact reference exists
func (s *LocalStore) Resolve(ctx context.Context, ref string) (bool, error) {
	path, err := s.refPath(ref)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WrapError(err, errors.ErrorTypeStorage, "STAT_FAILED",
			"failed to stat artifact "+ref)
	}
	return !info.IsDir(), nil
}

// Put stores an opaque blob under the given reference
func (s *LocalStore) Put(ctx context.Context, ref string, body io.Reader) error {
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "MKDIR_FAILED",
			"failed to create artifact directory for "+ref)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED",
			"failed to create artifact "+ref)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		os.Remove(path)
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED",
			"failed to write artifact "+ref)
	}
	return nil
}

// Fetch returns the blob for a reference
func (s *LocalStore) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("ARTIFACT_NOT_FOUND", "artifact "+ref+" not found")
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED",
			"failed to open artifact "+ref)
	}
	return f, nil
}

// Delete removes the blob for a reference
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
			"failed to delete artifact "+ref)
	}
	return nil
}

// refPath maps a reference onto the base directory, rejecting escapes
func (s *LocalStore) refPath(ref string) (string, error) {
	if ref == "" {
		return "", errors.NewValidationError("INVALID_REF", "artifact reference cannot be empty")
	}

	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.NewValidationError("INVALID_REF", "artifact reference escapes base path")
	}
	return filepath.Join(s.config.BasePath, clean), nil
}

var _ Store = (*LocalStore)(nil)
