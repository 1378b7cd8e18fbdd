// Package storage implements the filesystem adapter: read/write/list/
// delete/exists/metadata over markdown blobs under a tenant root, with
// the hidden-file policy from spec.md §4.1.
package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cortexmem/internal/cortexerr"
	"cortexmem/internal/cortexuri"
)

// AbstractFile and OverviewFile are the two reserved hidden names visible
// through list despite the leading dot.
const (
	AbstractFile = ".abstract.md"
	OverviewFile = ".overview.md"
	SessionFile  = ".session.json"
	MetadataFile = ".metadata.json"
	IndexFile    = "index.md"
)

var dimensions = []cortexuri.Dimension{
	cortexuri.DimensionSession,
	cortexuri.DimensionUser,
	cortexuri.DimensionAgent,
	cortexuri.DimensionResources,
	cortexuri.DimensionGlobal,
}

// EntryInfo describes one listed directory entry.
type EntryInfo struct {
	Name  string
	IsDir bool
}

// Filesystem is the cortex:// filesystem adapter rooted at a single
// tenant directory on the host.
type Filesystem struct {
	Root string
}

// New creates and initialises the tenant root, including its top-level
// dimension directories, per spec.md §4.1 "Initialisation".
func New(root string) (*Filesystem, error) {
	fs := &Filesystem{Root: root}
	if err := fs.initialize(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *Filesystem) initialize() error {
	if err := os.MkdirAll(f.Root, 0o755); err != nil {
		return cortexerr.Storage(err, "create tenant root %s", f.Root)
	}
	for _, d := range dimensions {
		if err := os.MkdirAll(filepath.Join(f.Root, string(d)), 0o755); err != nil {
			return cortexerr.Storage(err, "create dimension dir %s", d)
		}
	}
	return nil
}

func (f *Filesystem) path(u *cortexuri.URI) (string, error) {
	return u.ToFilePath(f.Root)
}

// Read returns the UTF-8 content of the blob at u.
func (f *Filesystem) Read(u *cortexuri.URI) (string, error) {
	p, err := f.path(u)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", cortexerr.NotFound("no blob at %s", u.String())
		}
		return "", cortexerr.Storage(err, "read %s", u.String())
	}
	return string(b), nil
}

// Write creates missing parent directories and writes content, replacing
// any existing file.
func (f *Filesystem) Write(u *cortexuri.URI, content string) error {
	p, err := f.path(u)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return cortexerr.Storage(err, "create parent dirs for %s", u.String())
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return cortexerr.Storage(err, "write %s", u.String())
	}
	return nil
}

// Delete removes the blob, or the whole subtree if u names a directory.
func (f *Filesystem) Delete(u *cortexuri.URI) error {
	p, err := f.path(u)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(p)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return cortexerr.NotFound("no entry at %s", u.String())
		}
		return cortexerr.Storage(statErr, "stat %s", u.String())
	}
	if info.IsDir() {
		err = os.RemoveAll(p)
	} else {
		err = os.Remove(p)
	}
	if err != nil {
		return cortexerr.Storage(err, "delete %s", u.String())
	}
	return nil
}

// Exists reports whether the path resolves to any entry.
func (f *Filesystem) Exists(u *cortexuri.URI) (bool, error) {
	p, err := f.path(u)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cortexerr.Storage(err, "stat %s", u.String())
}

// ModTime returns the last-modified time for the entry at u.
func (f *Filesystem) ModTime(u *cortexuri.URI) (time.Time, error) {
	p, err := f.path(u)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, cortexerr.NotFound("no entry at %s", u.String())
		}
		return time.Time{}, cortexerr.Storage(err, "stat %s", u.String())
	}
	return info.ModTime(), nil
}

// List returns the directory entries at u's directory, applying the
// hidden-file policy: names with a leading '.' are filtered out except
// the two reserved layer filenames.
func (f *Filesystem) List(u *cortexuri.URI) ([]EntryInfo, error) {
	p, err := f.path(u)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cortexerr.NotFound("no directory at %s", u.String())
		}
		return nil, cortexerr.Storage(err, "list %s", u.String())
	}
	var out []EntryInfo
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && name != AbstractFile && name != OverviewFile {
			continue
		}
		out = append(out, EntryInfo{Name: name, IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListNames is a convenience wrapper returning only entry names.
func (f *Filesystem) ListNames(u *cortexuri.URI) ([]string, error) {
	entries, err := f.List(u)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}
