// Package storage defines the backing-file abstraction for posts and media.
package storage

import "time"

// File describes one file found by List.
type File struct {
	Path     string // relative to the storage root, slash separated
	Checksum string
	Size     int64
	ModTime  time.Time
}

// Provider is the interface for backing-file operations. All paths are
// relative to the provider root.
type Provider interface {
	// List returns every file under dir whose name ends in ext ("" for all).
	List(dir, ext string) ([]File, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	Delete(path string) error
	Move(oldPath, newPath string) error
	Exists(path string) (bool, error)
}
