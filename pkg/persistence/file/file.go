// Package file provides a file-based Store: one JSON document per entity under
// <root>/<tenant>/<kind>/<id>.json.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/flowrule/pkg/persistence"
)

var errUnsafeSegment = errors.New("key segment contains a path separator")

// Persistence implements persistence.Store using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Get(_ context.Context, kind, tenantID, id string) ([]byte, error) {
	path, err := fp.path(kind, tenantID, id)
	if err != nil {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, err)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, persistence.ErrNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, err)
	}

	return data, nil
}

func (fp *Persistence) Put(_ context.Context, kind, tenantID, id string, data []byte) error {
	err := persistence.CheckKey("Put", kind, tenantID, id)
	if err != nil {
		return err
	}

	path, err := fp.path(kind, tenantID, id)
	if err != nil {
		return persistence.NewEntityError("Put", kind, tenantID, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return persistence.NewEntityError("Put", kind, tenantID, id, fmt.Errorf("failed to create directory: %w", err))
	}

	// Write to a sibling temp file and rename so readers never see a partial document.
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return persistence.NewEntityError("Put", kind, tenantID, id, fmt.Errorf("failed to write file: %w", err))
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return persistence.NewEntityError("Put", kind, tenantID, id, fmt.Errorf("failed to rename file: %w", err))
	}

	return nil
}

func (fp *Persistence) Delete(_ context.Context, kind, tenantID, id string) error {
	path, err := fp.path(kind, tenantID, id)
	if err != nil {
		return persistence.NewEntityError("Delete", kind, tenantID, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewEntityError("Delete", kind, tenantID, id, persistence.ErrNotFound)
	}

	if err != nil {
		return persistence.NewEntityError("Delete", kind, tenantID, id, err)
	}

	return nil
}

func (fp *Persistence) List(_ context.Context, kind, tenantID string) ([][]byte, error) {
	dir, err := fp.dir(kind, tenantID)
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", err)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", fmt.Errorf("failed to list files: %w", err))
	}

	sort.Strings(jsonFiles)

	documents := make([][]byte, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, persistence.NewEntityError("List", kind, tenantID, name, err)
		}

		documents = append(documents, data)
	}

	return documents, nil
}

func (fp *Persistence) dir(kind, tenantID string) (string, error) {
	for _, segment := range []string{kind, tenantID} {
		if strings.ContainsAny(segment, `/\`) || segment == ".." {
			return "", errUnsafeSegment
		}
	}

	return filepath.Join(fp.root, tenantID, kind), nil
}

func (fp *Persistence) path(kind, tenantID, id string) (string, error) {
	dir, err := fp.dir(kind, tenantID)
	if err != nil {
		return "", err
	}

	if strings.ContainsAny(id, `/\`) || id == ".." {
		return "", errUnsafeSegment
	}

	return filepath.Join(dir, id+".json"), nil
}
