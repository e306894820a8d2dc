package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"notesync/internal/notesync"
)

// FileSystemStore is a directory-backed implementation of notesync.ObjectStore.
// Objects and their metadata are stored side by side:
//
//	<root>/
//	  objects/
//	    <key>          (object content; "/" in keys become subdirectories)
//	  meta/
//	    <key>.json     (content type and user metadata)
type FileSystemStore struct {
	root       string
	objectsDir string
	metaDir    string
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFileSystemStore creates a store rooted at root, creating the directory
// structure when needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	objectsDir := filepath.Join(root, "objects")
	metaDir := filepath.Join(root, "meta")

	for _, dir := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &FileSystemStore{
		root:       root,
		objectsDir: objectsDir,
		metaDir:    metaDir,
	}, nil
}

// paths maps a key to its content and sidecar paths, rejecting keys that
// would escape the root.
func (f *FileSystemStore) paths(key string) (string, string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", "", fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", "", fmt.Errorf("invalid object key %q", key)
		}
	}
	rel := filepath.FromSlash(key)
	return filepath.Join(f.objectsDir, rel), filepath.Join(f.metaDir, rel+".json"), nil
}

func (f *FileSystemStore) Stat(_ context.Context, key string) (*notesync.ObjectInfo, error) {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, notesync.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: stat %s: %w", notesync.ErrUnreachable, key, err)
	}

	sc, err := readSidecar(metaPath)
	if err != nil {
		return nil, err
	}
	return &notesync.ObjectInfo{
		Key:      key,
		Size:     fi.Size(),
		ModTime:  fi.ModTime().UTC(),
		Metadata: sc.Metadata,
	}, nil
}

func (f *FileSystemStore) Get(ctx context.Context, key string) ([]byte, *notesync.ObjectInfo, error) {
	info, err := f.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	dataPath, _, _ := f.paths(key)

	data, err := os.ReadFile(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("object %s: %w", key, notesync.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: reading %s: %w", notesync.ErrUnreachable, key, err)
	}
	info.Size = int64(len(data))
	return data, info, nil
}

// Put writes the metadata sidecar first and the content last, so a reader
// that sees the content also sees its metadata.
func (f *FileSystemStore) Put(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return err
	}

	sc, err := json.Marshal(sidecar{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, sc); err != nil {
		return err
	}
	return writeFileAtomic(dataPath, data)
}

func (f *FileSystemStore) Delete(_ context.Context, key string) error {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return err
	}

	for _, p := range []string{dataPath, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// Location returns the store's root directory.
func (f *FileSystemStore) Location() string {
	return f.root
}

func readSidecar(path string) (sidecar, error) {
	var sc sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sc, nil
		}
		return sc, fmt.Errorf("reading metadata: %w", err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parsing metadata %s: %w", path, err)
	}
	return sc, nil
}

// writeFileAtomic writes data to destPath using a temp file and rename.
func writeFileAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Temp file lives in the same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ notesync.ObjectStore = (*FileSystemStore)(nil)
