// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/kapicorp/kapitan/core/refs"
)

const (
	refDirPerm  = 0755
	refFilePerm = 0600
)

// Store persists one YAML ref record per file under a root directory,
// keyed by the ref path. Writes are not atomic: a crash while writing
// can leave a partial file behind.
type Store struct {
	root string
}

// NewStore returns a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) filePath(refPath string) (string, error) {
	clean := path.Clean(refPath)
	if refPath == "" || path.IsAbs(refPath) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.WithType(errors.Errorf("ref error: invalid ref path %q", refPath), refs.ErrRef)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Exists reports whether a ref file exists at refPath.
func (s *Store) Exists(refPath string) (bool, error) {
	p, err := s.filePath(refPath)
	if err != nil {
		return false, errors.Trace(err)
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return !info.IsDir(), nil
}

// Read loads the record stored at refPath.
func (s *Store) Read(refPath string) (refs.Record, error) {
	p, err := s.filePath(refPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("ref %q", refPath)
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading ref %q", refPath)
	}
	var rec refs.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "ref error: parsing ref %q", refPath), refs.ErrRef)
	}
	if rec == nil {
		return nil, errors.WithType(errors.Errorf("ref error: ref %q is empty", refPath), refs.ErrRef)
	}
	return rec, nil
}

// Write stores rec at refPath unless a ref already exists there. It
// reports whether the file was written.
func (s *Store) Write(refPath string, rec refs.Record) (bool, error) {
	exists, err := s.Exists(refPath)
	if err != nil {
		return false, errors.Trace(err)
	}
	if exists {
		return false, nil
	}
	return true, errors.Trace(s.Overwrite(refPath, rec))
}

// Overwrite stores rec at refPath, replacing any existing ref.
func (s *Store) Overwrite(refPath string, rec refs.Record) error {
	p, err := s.filePath(refPath)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(map[string]interface{}(rec))
	if err != nil {
		return errors.Annotatef(err, "encoding ref %q", refPath)
	}
	if err := os.MkdirAll(filepath.Dir(p), refDirPerm); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.WriteFile(p, data, refFilePerm), "writing ref %q", refPath)
}

// Iterate calls fn with the path and record of every ref in the store,
// in lexical order. Hidden files and directories are skipped.
func (s *Store) Iterate(fn func(refPath string, rec refs.Record) error) error {
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		refPath := filepath.ToSlash(rel)
		rec, err := s.Read(refPath)
		if err != nil {
			return err
		}
		return fn(refPath, rec)
	})
	if os.IsNotExist(errors.Cause(err)) {
		return nil
	}
	return errors.Trace(err)
}
