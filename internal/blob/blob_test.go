package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_SaveReadDelete(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	name, path, err := s.Save("alice", "Notes.MD", []byte("# hi"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(name, ".md") {
		t.Errorf("stored name %q should keep the lowercased extension", name)
	}
	if filepath.Dir(path) != filepath.Join(s.Root(), "alice") {
		t.Errorf("path %q should be under the user directory", path)
	}

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "# hi" {
		t.Errorf("Read: got %q", data)
	}

	if err := s.Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should be gone, stat err = %v", err)
	}
	if err := s.Delete(path); err != nil {
		t.Errorf("deleting a missing file should succeed: %v", err)
	}
}

func TestStore_rejectsOutsidePaths(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("/etc/passwd"); err == nil {
		t.Error("expected error reading outside the root")
	}
	_, path, err := s.Save("../escape", "a.txt", []byte("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.contains(path); err != nil {
		t.Errorf("saved path should stay inside root: %v", err)
	}
}

func TestNewStore_emptyDir(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Error("expected error for empty directory")
	}
}
