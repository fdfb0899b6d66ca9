package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Both implementations must behave the same for the recorder's call pattern.
func implementations(t *testing.T) map[string]struct {
	fsys FileSystem
	root string
} {
	return map[string]struct {
		fsys FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, t.TempDir()},
		"memory": {NewMemoryFileSystem(), "sessions"},
	}
}

func TestFileSystem_RecorderLifecycle(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fsys, root := impl.fsys, impl.root
			dir := filepath.Join(root, "session_2026-05-01_10-00-00.000")

			if err := fsys.MkdirAll(dir, 0755); err != nil {
				t.Fatalf("MkdirAll: %v", err)
			}
			if !fsys.Exists(dir) {
				t.Fatal("directory should exist after MkdirAll")
			}

			w, err := fsys.Create(filepath.Join(dir, "throttle.csv"))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := w.Write([]byte("timestamp,throttle\n")); err != nil {
				t.Fatalf("Write: %v", err)
			}
			// rows are readable before Close
			got, err := fsys.ReadFile(filepath.Join(dir, "throttle.csv"))
			if err != nil || string(got) != "timestamp,throttle\n" {
				t.Fatalf("ReadFile before close = %q, %v", got, err)
			}
			w.Write([]byte("1,0.5\n"))
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if _, err := w.Write([]byte("late")); !errors.Is(err, fs.ErrClosed) {
				t.Errorf("Write after Close = %v, want ErrClosed", err)
			}

			if err := WriteFileAtomic(fsys, filepath.Join(dir, "session_info.json"), []byte(`{}`), 0644); err != nil {
				t.Fatalf("WriteFileAtomic: %v", err)
			}
			if fsys.Exists(filepath.Join(dir, "session_info.json.tmp")) {
				t.Error("temp file left behind")
			}

			entries, err := fsys.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			if diff := cmp.Diff([]string{"session_info.json", "throttle.csv"}, names); diff != "" {
				t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
			}

			entries, err = fsys.ReadDir(root)
			if err != nil || len(entries) != 1 || !entries[0].IsDir() {
				t.Errorf("ReadDir(root) = %v, %v; want one directory", entries, err)
			}
		})
	}
}

func TestFileSystem_Missing(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			missing := filepath.Join(impl.root, "nope")
			if impl.fsys.Exists(missing) {
				t.Error("Exists on missing path")
			}
			if _, err := impl.fsys.ReadFile(missing); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("ReadFile = %v, want ErrNotExist", err)
			}
			if _, err := impl.fsys.ReadDir(missing); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("ReadDir = %v, want ErrNotExist", err)
			}
			if err := impl.fsys.Rename(missing, missing+"2"); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("Rename = %v, want ErrNotExist", err)
			}
		})
	}
}

func TestMemoryFileSystem_CreateTruncates(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.WriteFile("a.csv", []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	w, _ := m.Create("a.csv")
	w.Write([]byte("new"))
	if got, _ := m.ReadFile("a.csv"); string(got) != "new" {
		t.Errorf("ReadFile = %q, want new", got)
	}
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("p.csv", []byte("abc"), 0644)
	got, _ := m.ReadFile("p.csv")
	got[0] = 'X'
	if again, _ := m.ReadFile("p.csv"); string(again) != "abc" {
		t.Errorf("stored data was modified: %q", again)
	}
}

func TestMemoryFileSystem_MkdirAllOverFile(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("sessions", []byte("x"), 0644)
	if err := m.MkdirAll(filepath.Join("sessions", "a"), 0755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("MkdirAll over file = %v, want ErrExist", err)
	}
}

func TestMemoryFileSystem_Paths(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll(filepath.Join("sessions", "a"), 0755)
	m.WriteFile(filepath.Join("sessions", "a", "x.csv"), nil, 0644)
	m.WriteFile(filepath.Join("sessions", "b.csv"), nil, 0644)
	m.WriteFile("other.csv", nil, 0644)

	want := []string{filepath.Join("sessions", "a", "x.csv"), filepath.Join("sessions", "b.csv")}
	if diff := cmp.Diff(want, m.Paths("sessions")); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
	if got := len(m.Paths(".")); got != 3 {
		t.Errorf("Paths(.) = %d entries, want 3", got)
	}
}

func TestOSFileSystem_WriteFilePerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all_parameters.csv")
	if err := (OSFileSystem{}).WriteFile(path, []byte("parameter_name,value\n"), 0600); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}
