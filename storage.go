package copus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSystemInterface abstracts the file operations a DocumentStore needs.
// The library provides a default implementation for local files.
type FileSystemInterface interface {
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	MkdirAll(path string) error
	Remove(name string) error

	// ReadDir lists the file names in a directory.
	ReadDir(path string) ([]string, error)
}

// localFileSystem implements FileSystemInterface for local files.
type localFileSystem struct{}

func (fs *localFileSystem) WriteFile(name string, data []byte) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

func (fs *localFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (fs *localFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (fs *localFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (fs *localFileSystem) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

const documentFileExt = ".json"

// DocumentStore keeps exported documents as JSON files under a base
// directory, one file per document id.
type DocumentStore struct {
	fs       FileSystemInterface
	basePath string
}

// NewDocumentStore creates a store rooted at basePath. A nil fs uses the
// local file system.
func NewDocumentStore(basePath string, fs FileSystemInterface) *DocumentStore {
	if fs == nil {
		fs = &localFileSystem{}
	}
	return &DocumentStore{fs: fs, basePath: basePath}
}

func (s *DocumentStore) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
	}
	return filepath.Join(s.basePath, id+documentFileExt), nil
}

// Save writes the document's current state.
func (s *DocumentStore) Save(d *Document) error {
	path, err := s.path(d.ID())
	if err != nil {
		return err
	}
	data, err := d.ExportJSON()
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.basePath); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	d.logger.Debug().Str("path", path).Msg("saved document")
	return nil
}

// Load opens a saved document in lib.
func (s *DocumentStore) Load(lib *Library, id string) (*Document, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return lib.Open(DocumentOptions{DocumentID: id, DataJSON: data})
}

// Delete removes a saved document.
func (s *DocumentStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return err
	}
	return nil
}

// List returns the ids of the saved documents, sorted.
func (s *DocumentStore) List() ([]string, error) {
	names, err := s.fs.ReadDir(s.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		if id, ok := strings.CutSuffix(name, documentFileExt); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
