// Package profile manages the singleton user profile document: a JSON file
// holding the glossary of constraints, preferences, and identities the
// Scribe maintains across every block. Reads/writes go through canonical
// JSON (internal/jsonutil) so the file stays diff-stable.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/geraldfingburke/hmlr/server/internal/jsonutil"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// Store is a file-backed, last-writer-wins store for the singleton
// UserProfile document.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore builds a Store rooted at path, creating the parent directory and
// an empty document if neither exists yet.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("profile: creating data directory: %w", err)
	}

	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(models.UserProfile{}); err != nil {
			return nil, fmt.Errorf("profile: seeding empty document: %w", err)
		}
	}
	return s, nil
}

// Load returns the current profile document.
func (s *Store) Load() (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies fn to the current document and persists the result,
// last-writer-wins under the Store's mutex (the Scribe's updates are
// fire-and-forget so there is no cross-process coordination beyond this).
func (s *Store) Update(fn func(*models.UserProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	fn(&current)
	return s.write(current)
}

func (s *Store) read() (models.UserProfile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("profile: reading document: %w", err)
	}

	var doc models.UserProfile
	if len(raw) == 0 {
		return doc, nil
	}
	if err := jsonutil.Unmarshal(raw, &doc); err != nil {
		return models.UserProfile{}, fmt.Errorf("profile: decoding document: %w", err)
	}
	return doc, nil
}

func (s *Store) write(doc models.UserProfile) error {
	raw, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("profile: encoding document: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("profile: writing document: %w", err)
	}
	return nil
}

// AddConstraint appends a constraint to the glossary, replacing any existing
// entry with the same key (last-writer-wins at the field level too: a
// later observation about "employer" supersedes an earlier one).
func AddConstraint(doc *models.UserProfile, c models.Constraint) {
	for i, existing := range doc.Glossary.Constraints {
		if existing.Key == c.Key {
			doc.Glossary.Constraints[i] = c
			return
		}
	}
	doc.Glossary.Constraints = append(doc.Glossary.Constraints, c)
}

// AddPreference appends a preference string if not already present.
func AddPreference(doc *models.UserProfile, pref string) {
	for _, existing := range doc.Glossary.Preferences {
		if existing == pref {
			return
		}
	}
	doc.Glossary.Preferences = append(doc.Glossary.Preferences, pref)
}

// AddIdentity appends an identity string if not already present.
func AddIdentity(doc *models.UserProfile, identity string) {
	for _, existing := range doc.Glossary.Identities {
		if existing == identity {
			return
		}
	}
	doc.Glossary.Identities = append(doc.Glossary.Identities, identity)
}
