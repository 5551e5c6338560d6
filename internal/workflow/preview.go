package workflow

import (
	"fmt"
	"os"
	"path/filepath"
)

// Preview is a locally held copy of the selected file.
type Preview interface {
	Path() string
	Release() error
}

// PreviewFactory creates a preview for each selected file.
type PreviewFactory interface {
	Create(name string, data []byte) (Preview, error)
}

// TempPreviews writes previews to temporary files in Dir (the system
// temporary directory when empty).
type TempPreviews struct {
	Dir string
}

func (t TempPreviews) Create(name string, data []byte) (Preview, error) {
	f, err := os.CreateTemp(t.Dir, "markbook-preview-*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write preview: %w", err)
	}
	return tempPreview(f.Name()), nil
}

type tempPreview string

func (p tempPreview) Path() string { return string(p) }

func (p tempPreview) Release() error {
	if err := os.Remove(string(p)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
