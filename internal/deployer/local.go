package deployer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quillcms/quilld/internal/content"
)

// LocalTarget deploys into a directory on the local filesystem.
type LocalTarget struct {
	dir string
}

// NewLocalTarget returns a LocalTarget rooted at cfg.Path.
func NewLocalTarget(cfg content.LocalDeployConfig) (*LocalTarget, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local deployment requires a path")
	}
	return &LocalTarget{dir: cfg.Path}, nil
}

func (t *LocalTarget) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("key %q escapes target directory", key)
	}
	return filepath.Join(t.dir, cleaned), nil
}

func (t *LocalTarget) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	path, err := t.resolve(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (t *LocalTarget) Put(ctx context.Context, key string, data []byte) error {
	path, err := t.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (t *LocalTarget) Delete(ctx context.Context, key string) error {
	path, err := t.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (t *LocalTarget) Description() string {
	return "local:" + t.dir
}
