package p2p

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"peershare/internal/protocol"
)

var (
	// ErrInvalidName is returned for names that do not denote a file directly
	// inside the share directory.
	ErrInvalidName = errors.New("invalid filename")
	// ErrFileNotFound is returned when the share directory has no regular
	// file by that name.
	ErrFileNotFound = errors.New("file not found")
)

// LocalFile is a regular file in the share directory.
type LocalFile struct {
	Name string
	Size int64
}

// Share is a peer's share directory. Every file served or downloaded lives
// directly inside it under its shared name.
type Share struct {
	dir string
}

// NewShare opens dir as a share directory, creating it if needed.
func NewShare(dir string) (*Share, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create share dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Share{dir: abs}, nil
}

// Dir returns the absolute path of the share directory.
func (s *Share) Dir() string {
	return s.dir
}

// Path returns the location of name inside the share directory.
func (s *Share) Path(name string) (string, error) {
	if !protocol.ValidFilename(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// List returns the regular files in the share directory, sorted by name.
func (s *Share) List() ([]LocalFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	files := make([]LocalFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, LocalFile{Name: e.Name(), Size: info.Size()})
	}
	return files, nil
}

// Has reports whether name is a regular file in the share directory.
func (s *Share) Has(name string) bool {
	_, err := s.stat(name)
	return err == nil
}

// Open opens name for reading and returns its size.
func (s *Share) Open(name string) (*os.File, int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Create creates or truncates name for writing.
func (s *Share) Create(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

// Remove deletes name from the share directory.
func (s *Share) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Import places the file at localPath into the share directory as
// sharedName. A localPath that does not exist is looked up inside the share
// directory instead. Nothing is copied when source and destination are the
// same file.
func (s *Share) Import(localPath, sharedName string) error {
	dest, err := s.Path(sharedName)
	if err != nil {
		return err
	}

	src := localPath
	if _, err := os.Stat(src); err != nil {
		src = filepath.Join(s.dir, localPath)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%s: %w", localPath, ErrFileNotFound)
		}
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	if srcAbs == dest {
		return nil
	}
	return copyFile(srcAbs, dest)
}

func (s *Share) stat(name string) (os.FileInfo, error) {
	if !protocol.ValidFilename(name) {
		return nil, ErrInvalidName
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil || !info.Mode().IsRegular() {
		return nil, ErrFileNotFound
	}
	return info, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
