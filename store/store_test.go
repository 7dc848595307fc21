package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "contacts.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s := tempStore(t)
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected empty list, got %d contacts", got)
	}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	s := tempStore(t)
	a, err := s.Add(Contact{Name: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Add(Contact{Name: "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("want IDs 1,2 got %d,%d", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
}

func TestIDsAreMaxPlusOne(t *testing.T) {
	s := tempStore(t)
	s.Add(Contact{Name: "Alice"})
	s.Add(Contact{Name: "Bob"})
	if err := s.Delete(1); err != nil {
		t.Fatal(err)
	}
	c, err := s.Add(Contact{Name: "Carol"})
	if err != nil {
		t.Fatal(err)
	}
	// deleted IDs are not reused within a process
	if c.ID != 3 {
		t.Fatalf("want ID 3 got %d", c.ID)
	}
}

func TestAddValidation(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Add(Contact{Name: ""}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := s.Add(Contact{Name: "X", Email: "not-an-email"}); err == nil {
		t.Fatal("expected error for bad email")
	}
	if _, err := s.Add(Contact{Name: "X", Phone: "12345"}); err == nil {
		t.Fatal("expected error for short phone")
	}
	// separators don't count, digits do
	if _, err := s.Add(Contact{Name: "X", Phone: "+1 (555) 123-4567"}); err != nil {
		t.Fatal("formatted 10-digit phone should pass:", err)
	}
	if _, err := s.Add(Contact{Name: "Y", Email: "y@example.com"}); err != nil {
		t.Fatal("valid email should pass:", err)
	}
	// empty email and phone are fine
	if _, err := s.Add(Contact{Name: "Z"}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdate(t *testing.T) {
	s := tempStore(t)
	c, _ := s.Add(Contact{Name: "Alice", Email: "a@example.com"})

	updated, err := s.Update(c.ID, Fields{"email": "alice@example.com", "company": "Initech"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Email != "alice@example.com" || updated.Company != "Initech" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Name != "Alice" {
		t.Fatal("untouched field changed")
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) && updated.UpdatedAt != updated.CreatedAt {
		t.Fatal("UpdatedAt not bumped")
	}

	if _, err := s.Update(c.ID, Fields{"email": "nope"}); err == nil {
		t.Fatal("expected validation error")
	}
	got, _ := s.Get(c.ID)
	if got.Email != "alice@example.com" {
		t.Fatal("failed update must not change the record")
	}

	// clearing a field is allowed
	updated, err = s.Update(c.ID, Fields{"email": ""})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Email != "" {
		t.Fatal("email not cleared")
	}

	if _, err := s.Update(999, Fields{"name": "x"}); err != ErrNotFound {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	c, _ := s.Add(Contact{Name: "Alice"})
	if err := s.Delete(c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(c.ID); err != ErrNotFound {
		t.Fatalf("want ErrNotFound got %v", err)
	}
	if err := s.Delete(c.ID); err != ErrNotFound {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestListSortedByNameCaseInsensitive(t *testing.T) {
	s := tempStore(t)
	s.Add(Contact{Name: "charlie"})
	s.Add(Contact{Name: "Bob"})
	s.Add(Contact{Name: "alice"})
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("want 3 got %d", len(list))
	}
	if list[0].Name != "alice" || list[1].Name != "Bob" || list[2].Name != "charlie" {
		t.Fatalf("bad sort order: %v %v %v", list[0].Name, list[1].Name, list[2].Name)
	}
}

func TestSearch(t *testing.T) {
	s := tempStore(t)
	s.Add(Contact{Name: "Alice", Company: "Initech", Email: "alice@example.com"})
	s.Add(Contact{Name: "Bob", Notes: "met at initech party"})
	s.Add(Contact{Name: "Carol", Phone: "555-010-9999"})

	if got := s.Search("initech"); len(got) != 2 {
		t.Fatalf("company/notes search: want 2 got %d", len(got))
	}
	if got := s.Search("ALICE"); len(got) != 1 || got[0].Name != "Alice" {
		t.Fatalf("case-insensitive name search failed: %v", got)
	}
	if got := s.Search("010-9"); len(got) != 1 || got[0].Name != "Carol" {
		t.Fatalf("phone search failed: %v", got)
	}
	if got := s.Search("zzz"); len(got) != 0 {
		t.Fatalf("want no results got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	s := tempStore(t)
	s.Add(Contact{Name: "Alice", Email: "a@example.com", Company: "Initech"})
	s.Add(Contact{Name: "adam", Phone: "5551234567"})
	s.Add(Contact{Name: "Bob"})
	st := s.Stats()
	if st.Total != 3 || st.WithEmail != 1 || st.WithPhone != 1 || st.WithCompany != 1 {
		t.Fatalf("bad stats: %+v", st)
	}
	if st.ByLetter["A"] != 2 || st.ByLetter["B"] != 1 {
		t.Fatalf("bad by-letter stats: %v", st.ByLetter)
	}
}

func TestStatsMultibyteNames(t *testing.T) {
	s := tempStore(t)
	s.Add(Contact{Name: "Émile"})
	s.Add(Contact{Name: "émilie"})
	s.Add(Contact{Name: "Øyvind"})
	st := s.Stats()
	if st.ByLetter["É"] != 2 {
		t.Fatalf(`want 2 under "É" got %v`, st.ByLetter)
	}
	if st.ByLetter["Ø"] != 1 {
		t.Fatalf(`want 1 under "Ø" got %v`, st.ByLetter)
	}
	for k := range st.ByLetter {
		if !utf8.ValidString(k) {
			t.Fatalf("invalid UTF-8 letter key %q", k)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(Contact{Name: "Alice", Email: "a@example.com"})
	s.Add(Contact{Name: "Bob"})

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	list := s2.List()
	if len(list) != 2 {
		t.Fatalf("want 2 got %d", len(list))
	}
	if list[0].Name != "Alice" || list[0].Email != "a@example.com" {
		t.Fatalf("roundtrip lost data: %+v", list[0])
	}
	// next ID continues from the stored max
	c, _ := s2.Add(Contact{Name: "Carol"})
	if c.ID != 3 {
		t.Fatalf("want ID 3 got %d", c.ID)
	}
}

func TestFileIsValidIndentedJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	s, _ := Open(path)
	s.Add(Contact{Name: "Alice"})
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(b, &list); err != nil {
		t.Fatal("data file is not a JSON array:", err)
	}
	for _, key := range []string{"id", "name", "email", "phone", "address", "company", "notes", "created_at", "updated_at"} {
		if _, ok := list[0][key]; !ok {
			t.Fatalf("data file missing %q key", key)
		}
	}
	if b[0] != '[' || b[1] != '\n' {
		t.Fatal("data file should be indented")
	}
	// no leftover temp file
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestMalformedFileStartsEmptyAndIsPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	if err := os.WriteFile(path, []byte("{ not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.List()) != 0 {
		t.Fatal("malformed file should load as empty")
	}
	// the bad file is untouched until a mutation succeeds
	b, _ := os.ReadFile(path)
	if string(b) != "{ not json" {
		t.Fatal("malformed file was overwritten on load")
	}
	if _, err := s.Add(Contact{Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	b, _ = os.ReadFile(path)
	var list []Contact
	if err := json.Unmarshal(b, &list); err != nil || len(list) != 1 {
		t.Fatalf("mutation should re-establish a valid file: %v", err)
	}
}
