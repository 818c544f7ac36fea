// Package storage reads and writes Markdown vault directories used by
// import and export.
package storage

import "time"

// File describes one Markdown file in a vault.
type File struct {
	Path      string // relative to the vault root, forward slashes
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns every .md file under dir (relative to vault root), in path order.
	List(dir string) ([]File, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces path with content. It reports false when the
	// file already held exactly that content.
	Write(path string, content []byte) (bool, error)
}
