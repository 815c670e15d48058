// Package objkey builds object keys shared by the storage backends.
package objkey

import (
	"errors"
	"path"
	"strings"
)

// ErrNotFound is wrapped by every backend when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Upload is the key an uploaded file is stored under. Each file gets its own
// prefix so renames never collide across files.
func Upload(fileID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return "uploads/" + fileID + "/" + name
}

// Renamed returns key with its base name replaced by newBase, keeping the
// directory and extension.
func Renamed(key, newBase string) string {
	ext := path.Ext(key)
	dir := path.Dir(key)
	if dir == "." {
		return newBase + ext
	}
	return dir + "/" + newBase + ext
}
