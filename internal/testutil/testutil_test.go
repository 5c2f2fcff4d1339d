package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Interim", "2021", "summary.csv")
	WriteFile(t, path, "a,b\n")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "a,b\n" {
		t.Errorf("content = %q, want %q", data, "a,b\n")
	}
}

func TestTempFile(t *testing.T) {
	path := TempFile(t, "run.json", "{}")
	if filepath.Base(path) != "run.json" {
		t.Errorf("base name = %q, want run.json", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("stat %s: %v", path, err)
	}
}

func TestMemFS(t *testing.T) {
	fsys := MemFS(t, map[string]string{
		"/data/a.csv":  "x\n",
		"nested/b.csv": "y\n",
	})
	data, err := fsys.ReadFile("/data/a.csv")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "x\n" {
		t.Errorf("content = %q, want %q", data, "x\n")
	}
	if !fsys.Exists("nested/b.csv") {
		t.Error("nested/b.csv missing")
	}
}
