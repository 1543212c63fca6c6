// oreon/appshell · watchthelight <wtl>

package update

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

const (
	partialSuffix  = ".part"
	artifactSuffix = ".artifact"
)

// Cache stages downloaded artifacts on disk.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir. The directory is created lazily.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) partialPath(sessionID string) string {
	return filepath.Join(c.dir, sessionID+partialSuffix)
}

func (c *Cache) artifactPath(sessionID string) string {
	return filepath.Join(c.dir, sessionID+artifactSuffix)
}

// Create opens a fresh partial file for sessionID, truncating any leftover.
func (c *Cache) Create(sessionID string) (*os.File, error) {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.OpenFile(c.partialPath(sessionID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create partial artifact: %w", err)
	}
	return f, nil
}

// Commit promotes the partial file for sessionID and returns its final path.
func (c *Cache) Commit(sessionID string) (string, error) {
	dst := c.artifactPath(sessionID)
	if err := os.Rename(c.partialPath(sessionID), dst); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return dst, nil
}

// Discard removes any partial or committed artifact for sessionID.
func (c *Cache) Discard(sessionID string) {
	os.Remove(c.partialPath(sessionID))
	os.Remove(c.artifactPath(sessionID))
}

// Clear removes every partial and committed artifact the cache staged. Other
// files in the directory are left alone. A missing cache is not an error.
func (c *Cache) Clear() error {
	var err error
	for _, suffix := range []string{partialSuffix, artifactSuffix} {
		matches, globErr := filepath.Glob(filepath.Join(c.dir, "*"+suffix))
		if globErr != nil {
			return fmt.Errorf("clear update cache: %w", globErr)
		}
		for _, path := range matches {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = multierr.Append(err, rmErr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("clear update cache: %w", err)
	}
	return nil
}
