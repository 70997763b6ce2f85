package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rudransh-shrivastava/nearby/internal/store"
)

func setupTestDB(t *testing.T) *store.FileStore {
	t.Helper()
	db, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewFileStore(db)
}

func TestFileStore_CreateFile(t *testing.T) {
	fs := setupTestDB(t)
	ctx := context.Background()

	file, created, err := fs.CreateFile(ctx, store.SharedFile{FileID: "abc123", Name: "test.txt", Path: "/tmp/test.txt", Size: 1024})
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if file.ID == 0 {
		t.Error("expected primary key to be assigned")
	}
	if file.CreatedAt == 0 {
		t.Error("expected CreatedAt to be set")
	}
}

func TestFileStore_CreateFile_Duplicate(t *testing.T) {
	fs := setupTestDB(t)
	ctx := context.Background()

	_, _, _ = fs.CreateFile(ctx, store.SharedFile{FileID: "abc123", Name: "first.txt", Path: "/tmp/first.txt"})

	file, created, err := fs.CreateFile(ctx, store.SharedFile{FileID: "abc123", Name: "second.txt", Path: "/tmp/second.txt"})
	if err != nil {
		t.Fatalf("second CreateFile failed: %v", err)
	}
	if created {
		t.Error("expected file NOT to be created (duplicate)")
	}
	if file.Name != "first.txt" {
		t.Errorf("expected existing row, got %q", file.Name)
	}
}

func TestFileStore_GetAndDelete(t *testing.T) {
	fs := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, _, err := fs.CreateFile(ctx, store.SharedFile{FileID: id, Name: id, Path: "/tmp/" + id}); err != nil {
			t.Fatalf("CreateFile %s failed: %v", id, err)
		}
	}

	files, err := fs.GetFiles(ctx)
	if err != nil {
		t.Fatalf("GetFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}

	got, err := fs.GetFileByFileID(ctx, "b")
	if err != nil {
		t.Fatalf("GetFileByFileID failed: %v", err)
	}
	if got.Path != "/tmp/b" {
		t.Errorf("expected path /tmp/b, got %q", got.Path)
	}

	if err := fs.DeleteFile(ctx, "b"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := fs.GetFileByFileID(ctx, "b"); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound after delete, got %v", err)
	}
	if err := fs.DeleteFile(ctx, "b"); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound deleting twice, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	file, err := store.Describe(path, "")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if file.FileID == "" {
		t.Error("expected generated file id")
	}
	if file.Name != "notes.txt" || file.Size != 3 {
		t.Errorf("unexpected description: %+v", file)
	}
	// sha256("abc")
	if file.Checksum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("unexpected checksum %s", file.Checksum)
	}

	if _, err := store.Describe(t.TempDir(), "x"); err == nil {
		t.Error("expected error describing a directory")
	}
}
