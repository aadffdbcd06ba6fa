package task

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Staging owns the per-task scratch directories under Root.
type Staging struct {
	Root string
}

func NewStaging(root string) (*Staging, error) {
	if root == "" {
		return nil, errors.New("staging root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Staging{Root: root}, nil
}

// Dir is the scratch directory of a task; analysis output lands here too.
func (s *Staging) Dir(taskID string) string {
	return filepath.Join(s.Root, taskID)
}

// Stage writes r verbatim to <root>/<taskID>/<base of filename> and returns
// the path. On failure nothing is left behind.
func (s *Staging) Stage(taskID, filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	dir := s.Dir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(dir, base)
	if err := writeFile(path, r); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Release removes the task's scratch directory. Missing directories are fine.
func (s *Staging) Release(taskID string) error {
	if taskID == "" {
		return nil
	}
	return os.RemoveAll(s.Dir(taskID))
}
