package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBackendOpen(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "b"), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b", "out.pdf"), []byte("hello"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reg := NewRegistry()
	reg.Register("scratch", NewLocalBackend(root))

	obj, err := reg.Open(context.Background(), "scratch", "b/out.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Close()
	if obj.Size != 5 {
		t.Fatalf("Size = %d, want 5", obj.Size)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
}

func TestLocalBackendRejectsEscapes(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	for _, p := range []string{"../x", "/etc/passwd", "..", "", "a/../../x"} {
		if _, err := b.Open(context.Background(), p); err == nil {
			t.Fatalf("Open(%q) expected error", p)
		}
	}
}

func TestLocalBackendMissing(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	if _, err := b.Open(context.Background(), "gone.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryUnknownNamespace(t *testing.T) {
	if _, err := NewRegistry().Open(context.Background(), "s3", "x"); err == nil {
		t.Fatal("expected error for unknown namespace")
	}
}
