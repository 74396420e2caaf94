// Package workspace manages the per-account scratch directories the browser
// drivers use for downloads, captcha images and profile data.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager resolves and cleans per-account directories under a single root.
// Account names are flattened into safe path segments, so two distinct
// accounts never share a directory.
type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Dir returns the account's scratch directory, creating it if needed.
func (m *Manager) Dir(accountName string) (string, error) {
	dir := filepath.Join(m.root, pathSegment(accountName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace for %s: %w", accountName, err)
	}
	return dir, nil
}

// Clear removes everything inside the account's directory but keeps the
// directory itself, so open handles to it stay valid.
func (m *Manager) Clear(accountName string) error {
	dir := filepath.Join(m.root, pathSegment(accountName))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading workspace for %s: %w", accountName, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clearing workspace for %s: %w", accountName, err)
		}
	}
	return nil
}

// ClearAll wipes every account directory under the root. Called once at
// startup to sweep up whatever a previous run left behind.
func (m *Manager) ClearAll() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading workspace root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			return fmt.Errorf("clearing workspace root: %w", err)
		}
	}
	return nil
}

// pathSegment flattens an account name into a single safe path element.
func pathSegment(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	segment := replacer.Replace(name)
	if segment == "" || segment == "." {
		segment = "_"
	}
	return segment
}
