package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemoryPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	payload := []byte(`{"farm":"finca-aurora"}`)
	info, err := store.Put(ctx, "provenance/batch-1.json", bytes.NewReader(payload), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"submitter": "acme"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ContentType != "application/json" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := store.Put(ctx, "provenance/batch-1.json", bytes.NewReader(payload), PutOptions{}); err == nil {
		t.Fatalf("second put must fail, blobs are immutable")
	}

	got, rc, err := store.Get(ctx, "provenance/batch-1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch")
	}
	if got.Metadata["submitter"] != "acme" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "provenance/batch-1.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head: %+v err=%v", head, err)
	}

	existed, err := store.Delete(ctx, "provenance/batch-1.json")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "provenance/batch-1.json")
	if err != nil || existed {
		t.Fatalf("second delete should report missing")
	}
}

func TestMemoryListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, key := range []string{"provenance/a", "provenance/b", "manifests/c"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "provenance/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	if infos[0].Key != "provenance/a" || infos[1].Key != "provenance/b" {
		t.Fatalf("expected sorted keys, got %+v", infos)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	store := NewMemory()
	if _, err := store.PresignURL(context.Background(), "k", SignedURLOptions{}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
