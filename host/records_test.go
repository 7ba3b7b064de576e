package host

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

// storeContract runs the behavior every RecordStore must share.
func storeContract(t *testing.T, s RecordStore) {
	t.Helper()

	if _, err := s.Get("app/db/1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Get of absent record: want ErrRecordNotFound, got %v", err)
	}
	if err := s.Delete("app/db/1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Delete of absent record: want ErrRecordNotFound, got %v", err)
	}

	if err := s.Put("app/db/1", []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("app/db/2", []byte("two")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("other/db/1", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := s.Get("app/db/1")
	if err != nil || !bytes.Equal(v, []byte("one")) {
		t.Errorf("Get = %q, %v", v, err)
	}

	// Put replaces.
	if err := s.Put("app/db/1", []byte("uno")); err != nil {
		t.Fatal(err)
	}
	v, _ = s.Get("app/db/1")
	if !bytes.Equal(v, []byte("uno")) {
		t.Errorf("Get after replace = %q", v)
	}

	names, err := s.List("app/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "app/db/1" || names[1] != "app/db/2" {
		t.Errorf("List(app/) = %v", names)
	}
	all, _ := s.List("")
	if len(all) != 3 {
		t.Errorf("List(\"\") = %v", all)
	}

	if err := s.Delete("app/db/1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("app/db/1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Get after delete: want ErrRecordNotFound, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("mutable")
	if err := s.Put("r", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	v, err := s.Get("r")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "mutable" {
		t.Errorf("stored value aliased the caller's buffer: %q", v)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer s.Close()

	storeContract(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("app/db/1", []byte("kept")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v, err := s.Get("app/db/1")
	if err != nil || !bytes.Equal(v, []byte("kept")) {
		t.Errorf("record did not survive reopen: %q, %v", v, err)
	}
}
