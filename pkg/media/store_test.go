package media

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return map[string]Store{"fs": fs, "memory": NewMemoryStore()}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte(`{"layout":"row"}`)
			ref, err := s.Put(ctx, data, "application/json")
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if !strings.HasPrefix(ref, "sha256:") || ref != Ref(data) {
				t.Fatalf("unexpected ref %q", ref)
			}

			again, err := s.Put(ctx, data, "application/json")
			if err != nil || again != ref {
				t.Fatalf("Put is not idempotent: %q %v", again, err)
			}

			got, err := s.Get(ctx, ref)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Get returned %q", got)
			}

			ok, err := s.Exists(ctx, ref)
			if err != nil || !ok {
				t.Errorf("Exists = %v, %v", ok, err)
			}

			if err := s.Delete(ctx, ref); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := s.Delete(ctx, ref); err != nil {
				t.Fatalf("second Delete failed: %v", err)
			}
			ok, _ = s.Exists(ctx, ref)
			if ok {
				t.Error("object still exists after Delete")
			}
			if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete: want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_InvalidRef(t *testing.T) {
	ctx := context.Background()
	bad := []string{"", "md5:abc", "sha256:zz", "sha256:abcd", "sha256:../../etc/passwd"}
	for name, s := range stores(t) {
		for _, ref := range bad {
			if _, err := s.Get(ctx, ref); !errors.Is(err, ErrInvalidRef) {
				t.Errorf("%s Get(%q): want ErrInvalidRef, got %v", name, ref, err)
			}
			if _, err := s.Exists(ctx, ref); !errors.Is(err, ErrInvalidRef) {
				t.Errorf("%s Exists(%q): want ErrInvalidRef, got %v", name, ref, err)
			}
			if err := s.Delete(ctx, ref); !errors.Is(err, ErrInvalidRef) {
				t.Errorf("%s Delete(%q): want ErrInvalidRef, got %v", name, ref, err)
			}
		}
	}
}

func TestStore_SizeLimit(t *testing.T) {
	ctx := context.Background()
	big := make([]byte, MaxObjectSize+1)
	for name, s := range stores(t) {
		if _, err := s.Put(ctx, big, ""); !errors.Is(err, ErrTooLarge) {
			t.Errorf("%s: want ErrTooLarge, got %v", name, err)
		}
		if _, err := s.Put(ctx, big[:MaxObjectSize], ""); err != nil {
			t.Errorf("%s: object at the limit rejected: %v", name, err)
		}
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, Config{Type: StoreTypeFS, DataDir: dir})
	if err != nil {
		t.Fatalf("NewStore(fs) failed: %v", err)
	}
	fs, ok := s.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", s)
	}
	if want := filepath.Join(dir, "media"); fs.baseDir != want {
		t.Errorf("baseDir = %s, want %s", fs.baseDir, want)
	}

	if s, err := NewStore(ctx, Config{Type: StoreTypeMemory}); err != nil {
		t.Fatalf("NewStore(memory) failed: %v", err)
	} else if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}

	if _, err := NewStore(ctx, Config{Type: StoreTypeS3}); err == nil || !strings.Contains(err.Error(), "MEDIA_S3_BUCKET is required") {
		t.Errorf("S3 without bucket: got %v", err)
	}
	if _, err := NewStore(ctx, Config{Type: "ftp"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
