package facility

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"bloodlink/internal/core"
	"bloodlink/pkg/domain"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Facilities []domain.Facility `yaml:"facilities"`
}

// Parse decodes a YAML facility document.
func Parse(data []byte) ([]domain.Facility, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	if err := Validate(doc.Facilities); err != nil {
		return nil, err
	}
	return doc.Facilities, nil
}

// File is a directory backed by a YAML file. A failed reload keeps the last
// good list.
type File struct {
	path    string
	logger  core.Logger
	current atomic.Pointer[[]domain.Facility]
	reloads atomic.Int64
}

// FileOption configures a File directory.
type FileOption func(*File)

// WithLogger sets the logger used for reload outcomes.
func WithLogger(logger core.Logger) FileOption {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// OpenFile loads path. The initial load must succeed.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, logger: core.NoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the watched file.
func (f *File) Path() string { return f.path }

// Facilities returns the most recently loaded list.
func (f *File) Facilities() []domain.Facility {
	list := f.current.Load()
	if list == nil {
		return nil
	}
	return append([]domain.Facility(nil), (*list)...)
}

// Reloads counts successful loads, including the initial one.
func (f *File) Reloads() int64 { return f.reloads.Load() }

// Reload reads and swaps in the file contents.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read facility file %s: %w", f.path, err)
	}
	list, err := Parse(data)
	if err != nil {
		return fmt.Errorf("load facility file %s: %w", f.path, err)
	}
	f.current.Store(&list)
	f.reloads.Add(1)
	return nil
}

// Watch reloads the file whenever it is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file atomically are seen.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("facility reload failed, keeping previous list", "path", f.path, "error", err)
				continue
			}
			f.logger.Info("facility directory reloaded", "path", f.path, "facilities", len(f.Facilities()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("fsnotify error", "path", f.path, "error", err)
		}
	}
}
