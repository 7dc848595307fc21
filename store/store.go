package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Store keeps the whole contact list in memory and rewrites one JSON
// file on every mutation. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	path     string
	contacts []Contact
	nextID   int

	watcher *watcher
}

// Open reads the contact file. A missing file is an empty list.
// A malformed file is also an empty list, but loudly.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty data file path")
	}
	s := &Store{path: path, nextID: 1}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("store: %s does not exist yet, starting empty", s.path)
			s.contacts = nil
			s.nextID = 1
			return nil
		}
		return fmt.Errorf("store: reading %s: %w", s.path, err)
	}
	var list []Contact
	if err := json.Unmarshal(b, &list); err != nil {
		log.Printf("store: WARNING: %s is not valid JSON (%v), starting empty. "+
			"The file will not be touched until the next successful change.", s.path, err)
		s.contacts = nil
		s.nextID = 1
		return nil
	}
	s.contacts = list
	s.nextID = maxID(list) + 1
	return nil
}

func maxID(list []Contact) int {
	max := 0
	for _, c := range list {
		if c.ID > max {
			max = c.ID
		}
	}
	return max
}

// Path returns the data file path.
func (s *Store) Path() string { return s.path }

// save writes the full list with a temp-file-and-rename so a reader of
// the file never sees a torn write. Caller holds the write lock.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.contacts, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("store: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: replacing %s: %w", s.path, err)
	}
	// armed only after the rename lands; a failed rename must not eat
	// the next genuine external edit (the event arrives asynchronously)
	if s.watcher != nil {
		s.watcher.expectSelfWrite()
	}
	return nil
}

// Add validates and appends a new contact, assigning the next ID.
func (s *Store) Add(c Contact) (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c.ID = s.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contacts = append(s.contacts, c)
	s.nextID++
	if err := s.save(); err != nil {
		// roll back the in-memory append
		s.contacts = s.contacts[:len(s.contacts)-1]
		s.nextID--
		return Contact{}, err
	}
	return c, nil
}

// Update applies the given fields to an existing contact.
func (s *Store) Update(id int, fields Fields) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID != id {
			continue
		}
		updated := s.contacts[i]
		for k, v := range fields {
			switch k {
			case "name":
				updated.Name = strings.TrimSpace(v)
			case "email":
				updated.Email = v
			case "phone":
				updated.Phone = v
			case "address":
				updated.Address = v
			case "company":
				updated.Company = v
			case "notes":
				updated.Notes = v
			}
		}
		if err := updated.Validate(); err != nil {
			return Contact{}, err
		}
		updated.UpdatedAt = time.Now()
		old := s.contacts[i]
		s.contacts[i] = updated
		if err := s.save(); err != nil {
			s.contacts[i] = old
			return Contact{}, err
		}
		return updated, nil
	}
	return Contact{}, ErrNotFound
}

// Delete removes a contact by ID.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID != id {
			continue
		}
		old := s.contacts
		s.contacts = append(s.contacts[:i:i], s.contacts[i+1:]...)
		if err := s.save(); err != nil {
			s.contacts = old
			return err
		}
		return nil
	}
	return ErrNotFound
}

// Get returns one contact by ID.
func (s *Store) Get(id int) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

// List returns all contacts sorted by name.
func (s *Store) List() []Contact {
	s.mu.RLock()
	out := make([]Contact, len(s.contacts))
	copy(out, s.contacts)
	s.mu.RUnlock()
	sortByName(out)
	return out
}

// Search returns contacts matching q in name, email, phone, company or
// notes (case-insensitive substring), sorted by name.
func (s *Store) Search(q string) []Contact {
	s.mu.RLock()
	var out []Contact
	for _, c := range s.contacts {
		if c.matches(q) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sortByName(out)
	return out
}

func sortByName(list []Contact) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
}

// Stats summarizes the address book for the index page.
type Stats struct {
	Total       int            `json:"total"`
	WithEmail   int            `json:"with_email"`
	WithPhone   int            `json:"with_phone"`
	WithCompany int            `json:"with_company"`
	ByLetter    map[string]int `json:"by_letter"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.contacts), ByLetter: make(map[string]int)}
	for _, c := range s.contacts {
		if c.Email != "" {
			st.WithEmail++
		}
		if c.Phone != "" {
			st.WithPhone++
		}
		if c.Company != "" {
			st.WithCompany++
		}
		if c.Name != "" {
			// first rune, not first byte, or multibyte names group
			// under an invalid-UTF-8 key
			r, _ := utf8.DecodeRuneInString(c.Name)
			st.ByLetter[strings.ToUpper(string(r))]++
		}
	}
	return st
}

// Reload re-reads the data file, replacing the in-memory list.
// Used by the change watcher.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Watch reloads the store when another program rewrites the data file.
// It watches the parent directory since editors replace files by rename.
func (s *Store) Watch() error {
	w, err := newWatcher(s)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

// Close stops the watcher, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		return w.stop()
	}
	return nil
}
