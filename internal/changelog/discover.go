package changelog

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
)

const (
	DefaultChangelogFile = "CHANGELOG.md"
	DefaultPackagesDir   = "packages"
)

// Layout describes where changelogs are located in a repository.
type Layout struct {
	// ChangelogFile is the name of the changelog files.
	ChangelogFile string
	// PackagesDir is the directory that contains one sub directory per
	// package.
	PackagesDir string
}

func DefaultLayout() Layout {
	return Layout{
		ChangelogFile: DefaultChangelogFile,
		PackagesDir:   DefaultPackagesDir,
	}
}

// RootPath returns the path of the repository changelog.
func (l *Layout) RootPath() string {
	return l.ChangelogFile
}

// PackagePath returns the path of the changelog of a package.
func (l *Layout) PackagePath(pkg string) string {
	return path.Join(l.PackagesDir, pkg, l.ChangelogFile)
}

// Document is a changelog that exists in the source branch checkout.
type Document struct {
	// Path is the slash separated path relative to the repository root.
	Path string
	// Package is the name of the package directory, it is empty for the
	// root changelog.
	Package string
	// Source is the content of the changelog on the source branch.
	Source string
}

// DocIter returns the changelogs of a repository checkout one at a time.
// The root changelog is returned first, followed by the changelogs of the
// packages in directory listing order.
// Files are only read when Next() is called, an iterator can not be
// restarted.
type DocIter struct {
	fsys   fs.FS
	layout Layout

	rootDone bool
	pkgs     []fs.DirEntry
	pkgsRead bool
}

// Discover returns an iterator over the changelogs in fsys.
func Discover(fsys fs.FS, layout Layout) *DocIter {
	return &DocIter{
		fsys:   fsys,
		layout: layout,
	}
}

// Next returns the next changelog.
// When all changelogs were returned a nil Document is returned.
func (it *DocIter) Next() (*Document, error) {
	if !it.rootDone {
		it.rootDone = true

		doc, err := it.read(it.layout.RootPath(), "")
		if err != nil {
			return nil, err
		}

		if doc != nil {
			return doc, nil
		}
	}

	if !it.pkgsRead {
		it.pkgsRead = true

		entries, err := fs.ReadDir(it.fsys, it.layout.PackagesDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("listing packages directory %s failed: %w", it.layout.PackagesDir, err)
		}

		it.pkgs = entries
	}

	for len(it.pkgs) > 0 {
		entry := it.pkgs[0]
		it.pkgs = it.pkgs[1:]

		isDir, err := it.isDir(entry)
		if err != nil {
			return nil, err
		}

		if !isDir {
			continue
		}

		doc, err := it.read(it.layout.PackagePath(entry.Name()), entry.Name())
		if err != nil {
			return nil, err
		}

		if doc != nil {
			return doc, nil
		}
	}

	return nil, nil
}

// isDir reports whether entry is a directory, symlinks are followed.
func (it *DocIter) isDir(entry fs.DirEntry) (bool, error) {
	if entry.IsDir() {
		return true, nil
	}

	if entry.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}

	p := path.Join(it.layout.PackagesDir, entry.Name())
	fi, err := fs.Stat(it.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat %s failed: %w", p, err)
	}

	return fi.IsDir(), nil
}

// read returns nil when the file does not exist.
func (it *DocIter) read(p, pkg string) (*Document, error) {
	content, err := fs.ReadFile(it.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s failed: %w", p, err)
	}

	return &Document{
		Path:    p,
		Package: pkg,
		Source:  string(content),
	}, nil
}
