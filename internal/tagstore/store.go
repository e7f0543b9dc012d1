// Package tagstore keeps the per-document scroll-position tags and persists
// them to a JSON file after every change.
//
// A Store is not safe for concurrent use. The session loop owns it. Other
// processes (the tags CLI) may share the file: every mutation takes an
// advisory file lock and rereads the file before applying the change.
package tagstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/models"
	"github.com/starford/mdview/internal/storage"
)

// LockSuffix names the lock file next to the store file.
const LockSuffix = ".lock"

// Store maps document paths to their tags in insertion order.
type Store struct {
	path  string
	lock  *flock.Flock
	order []string
	docs  map[string][]models.Tag
}

// New returns an empty store that persists to path. The first mutation
// picks up whatever the file holds by then.
func New(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + LockSuffix),
		docs: make(map[string][]models.Tag),
	}
}

// Load reads the store at path. A missing or malformed file yields an empty store.
func Load(path string) *Store {
	s := New(path)
	s.reload()
	return s
}

// Refresh rereads the file so reads see changes made by other processes.
// Writes replace the file atomically, so no lock is needed to read it.
func (s *Store) Refresh() {
	s.reload()
}

// reload replaces the in-memory state with the file contents. A missing
// file empties the store; an unreadable or malformed one leaves it as is.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.order, s.docs = nil, make(map[string][]models.Tag)
		return
	case err != nil:
		return
	}
	order, docs, err := decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	s.order, s.docs = order, docs
}

// locked runs fn while holding the file lock, after rereading the file.
// When the lock cannot be taken fn runs on the in-memory state; the save
// inside fn then reports why the file is not writable.
func (s *Store) locked(fn func() error) error {
	_ = os.MkdirAll(filepath.Dir(s.path), 0o755)
	if err := s.lock.Lock(); err != nil {
		return fn()
	}
	defer func() { _ = s.lock.Unlock() }()
	s.reload()
	return fn()
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Save writes the whole store, replacing the file atomically.
func (s *Store) Save() error {
	data, err := encode(s.order, s.docs)
	if err != nil {
		return fmt.Errorf("tagstore: encode: %w", err)
	}
	if err := storage.WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("tagstore: save %s: %w", s.path, err)
	}
	return nil
}

// Add appends a tag to doc unless an identical name/position pair exists.
// It reports whether the tag was added; the store is saved only when it was.
func (s *Store) Add(doc, name string, position int) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("tagstore: tag name is required")
	}
	if position < 0 {
		return false, fmt.Errorf("%w: %d", apperr.ErrInvalidPosition, position)
	}
	tag := models.Tag{Name: name, Position: position}
	var added bool
	err := s.locked(func() error {
		for _, t := range s.docs[doc] {
			if t == tag {
				return nil
			}
		}
		if _, ok := s.docs[doc]; !ok {
			s.order = append(s.order, doc)
		}
		s.docs[doc] = append(s.docs[doc], tag)
		added = true
		return s.Save()
	})
	return added, err
}

// Delete removes the first tag named name from doc. A document left without
// tags is dropped from the store.
func (s *Store) Delete(doc, name string) error {
	return s.locked(func() error {
		tags, ok := s.docs[doc]
		if !ok {
			return fmt.Errorf("tagstore: document %s: %w", doc, apperr.ErrNotFound)
		}
		idx := -1
		for i, t := range tags {
			if t.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("tagstore: tag %q: %w", name, apperr.ErrNotFound)
		}

		tags = append(tags[:idx:idx], tags[idx+1:]...)
		if len(tags) == 0 {
			s.dropDoc(doc)
		} else {
			s.docs[doc] = tags
		}
		return s.Save()
	})
}

func (s *Store) dropDoc(doc string) {
	delete(s.docs, doc)
	for i, d := range s.order {
		if d == doc {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// List flattens the store for display: documents in order, then their tags.
func (s *Store) List() []models.Listing {
	var out []models.Listing
	for _, doc := range s.order {
		for _, t := range s.docs[doc] {
			out = append(out, models.Listing{Doc: doc, Tag: t})
		}
	}
	return out
}

// Tags returns a copy of the tags recorded for doc.
func (s *Store) Tags(doc string) []models.Tag {
	return append([]models.Tag(nil), s.docs[doc]...)
}

// Docs returns the document paths in insertion order.
func (s *Store) Docs() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of documents with tags.
func (s *Store) Len() int {
	return len(s.order)
}
