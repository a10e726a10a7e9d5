package resource

import (
	"strings"
)

// ID is the location of a file or directory within a Store. It is a
// slash separated path that is relative to the root of the Store.
// Directories are denoted by a trailing slash. The empty ID refers to
// the root directory.
type ID struct {
	path string
}

// NewID creates an ID from a slash separated path. Leading slashes are
// stripped, as all paths are relative to the root of the Store.
func NewID(path string) ID {
	return ID{path: strings.TrimLeft(path, "/")}
}

// IsDirectory returns true if the ID refers to a directory.
func (id ID) IsDirectory() bool {
	return id.path == "" || strings.HasSuffix(id.path, "/")
}

// GetDirectory returns the ID itself if it refers to a directory, or
// the directory containing the file otherwise.
func (id ID) GetDirectory() ID {
	if id.IsDirectory() {
		return id
	}
	return ID{path: id.path[:strings.LastIndexByte(id.path, '/')+1]}
}

// Resolve returns the ID of a file with a given name, placed in the
// directory returned by GetDirectory().
func (id ID) Resolve(name string) ID {
	return ID{path: id.GetDirectory().path + name}
}

// ResolveDirectory returns the ID of a subdirectory with a given name,
// placed in the directory returned by GetDirectory().
func (id ID) ResolveDirectory(name string) ID {
	return ID{path: id.GetDirectory().path + strings.TrimSuffix(name, "/") + "/"}
}

// GetFilename returns the last component of the path, without any
// trailing slash.
func (id ID) GetFilename() string {
	p := strings.TrimSuffix(id.path, "/")
	return p[strings.LastIndexByte(p, '/')+1:]
}

// HasPrefix returns true if the ID is located inside a given directory.
func (id ID) HasPrefix(directory ID) bool {
	return strings.HasPrefix(id.path, directory.GetDirectory().path)
}

func (id ID) String() string {
	return id.path
}
