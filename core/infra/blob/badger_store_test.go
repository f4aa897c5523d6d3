package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	key := cossdk.Hash{Algorithm: "SHA-256", Value: "deadbeef"}.Key()

	if err := store.Put(ctx, key, payload, "application/wasm"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, meta, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload not bit-identical: %v", data)
	}
	if meta.Size != int64(len(payload)) || meta.ContentType != "application/wasm" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestKeyIncludesAlgorithm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sha256Key := cossdk.Hash{Algorithm: "SHA-256", Value: "cafe"}.Key()
	sha1Key := cossdk.Hash{Algorithm: "SHA-1", Value: "cafe"}.Key()

	if err := store.Put(ctx, sha256Key, []byte("data"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Same digest value under a different algorithm must be a miss.
	if _, _, err := store.Get(ctx, sha1Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for different algorithm, got %v", err)
	}
	ok, err := store.Has(ctx, sha1Key)
	if err != nil || ok {
		t.Fatalf("expected miss for different algorithm: ok=%v err=%v", ok, err)
	}
}

func TestStatMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Stat(context.Background(), "SHA-256_none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAndKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"SHA-256_bb", "SHA-256_aa", "SHA-1_cc"} {
		if err := store.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"SHA-1_cc", "SHA-256_aa", "SHA-256_bb"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}

	if err := store.Delete(ctx, "SHA-256_aa"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err := store.Has(ctx, "SHA-256_aa")
	if err != nil || ok {
		t.Fatalf("blob survived delete: ok=%v err=%v", ok, err)
	}
	if _, err := store.Stat(ctx, "SHA-256_aa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("metadata survived delete: %v", err)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), "SHA-256_ghost"); err != nil {
		t.Fatalf("delete of missing key should be a no-op, got %v", err)
	}
}
