package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func newFSStore(t *testing.T) *Filesystem {
	t.Helper()
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	return store
}

func TestFilesystemRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}

	payload := []byte("certificate of origin")
	info, err := store.Put(ctx, "evidence/cert-1.txt", bytes.NewReader(payload), PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag == "" || info.Size != int64(len(payload)) {
		t.Fatalf("unexpected info: %+v", info)
	}

	got, rc, err := store.Get(ctx, "evidence/cert-1.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch")
	}
	if got.ETag != info.ETag {
		t.Fatalf("etag drift: %s vs %s", got.ETag, info.ETag)
	}

	head, err := store.Head(ctx, "evidence/cert-1.txt")
	if err != nil || head.ContentType != "text/plain" {
		t.Fatalf("head: %+v err=%v", head, err)
	}

	infos, err := store.List(ctx, "evidence/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("list: %v entries=%d", err, len(infos))
	}

	existed, err := store.Delete(ctx, "evidence/cert-1.txt")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
}

func TestFilesystemRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	if _, err := store.Put(ctx, "k", strings.NewReader("a"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("b"), PutOptions{}); err == nil {
		t.Fatalf("overwrite must fail")
	}
}

func TestFilesystemKeySanitization(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	for _, key := range []string{"", "  ", "../escape", "/absolute", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}

func TestFilesystemPresignGetOnly(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	url, err := store.PresignURL(ctx, "some/key", SignedURLOptions{Method: "GET"})
	if err != nil || !strings.Contains(url, "some/key") {
		t.Fatalf("presign: url=%s err=%v", url, err)
	}
	if _, err := store.PresignURL(ctx, "some/key", SignedURLOptions{Method: "PUT"}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for PUT, got %v", err)
	}
}

func TestContentAddressedStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	payload := []byte(`{"lot":"42"}`)
	key := ContentKey("provenance", payload)
	if !strings.HasPrefix(key, "provenance/") || len(key) != len("provenance/")+64 {
		t.Fatalf("unexpected key shape: %s", key)
	}

	info, err := PutContent(ctx, store, "provenance", payload, PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put content: %v", err)
	}
	if info.Key != key {
		t.Fatalf("key mismatch: %s vs %s", info.Key, key)
	}

	// Idempotent for identical bytes.
	again, err := PutContent(ctx, store, "provenance", payload, PutOptions{})
	if err != nil || again.Key != key {
		t.Fatalf("repeat put: %+v err=%v", again, err)
	}

	if err := VerifyContent(info, payload); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyContent(info, []byte("tampered")); err == nil {
		t.Fatalf("tampered payload must fail verification")
	}
}

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("TRACECORE_BLOB_DRIVER", "")
	t.Setenv("TRACECORE_BLOB_FS_ROOT", t.TempDir())
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s, want fs", store.Driver())
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	t.Setenv("TRACECORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s, want memory", store.Driver())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("TRACECORE_BLOB_DRIVER", "tape")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("TRACECORE_BLOB_DRIVER", "s3")
	t.Setenv("TRACECORE_BLOB_S3_BUCKET", "")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
