package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets from files in a directory, one value per file.
// This matches Docker and Kubernetes secret mounts.
type FileProvider struct {
	baseDir string
}

// NewFileProvider creates a file-based provider rooted at baseDir.
func NewFileProvider(baseDir string) *FileProvider {
	return &FileProvider{baseDir: baseDir}
}

func (f *FileProvider) Name() string { return "file" }

// Get reads the secret file named after the key. Path separators and dots
// in the key collapse to underscores, so "db/password" reads db_password.
func (f *FileProvider) Get(_ context.Context, key string) (string, error) {
	path := filepath.Join(f.baseDir, keyToFilename(key))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read secret file: %w", err)
	}

	// Mounted secrets usually end with a newline.
	return strings.TrimRight(string(data), "\n\r"), nil
}

// HealthCheck verifies the secrets directory exists and is a directory.
func (f *FileProvider) HealthCheck(_ context.Context) error {
	info, err := os.Stat(f.baseDir)
	if err != nil {
		return fmt.Errorf("secrets directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("secrets path is not a directory: %s", f.baseDir)
	}
	return nil
}

var keySanitizer = strings.NewReplacer("/", "_", ".", "_", "-", "_")

func keyToFilename(key string) string {
	return strings.ToLower(keySanitizer.Replace(key))
}
