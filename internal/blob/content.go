package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ContentKey derives the content-addressed storage key for an evidence
// payload: a namespace prefix plus the hex sha256 of the bytes.
func ContentKey(namespace string, payload []byte) string {
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])
	if namespace == "" {
		return digest
	}
	return namespace + "/" + digest
}

// PutContent stores a payload under its content-addressed key. Storing
// the same bytes twice is a no-op returning the existing blob info.
func PutContent(ctx context.Context, store Store, namespace string, payload []byte, opts PutOptions) (Info, error) {
	key := ContentKey(namespace, payload)
	if info, err := store.Head(ctx, key); err == nil {
		return info, nil
	}
	return store.Put(ctx, key, bytes.NewReader(payload), opts)
}

// VerifyContent re-reads a blob and checks its bytes against the digest
// embedded in the key. A mismatch means the evidence was tampered with
// or the backend corrupted the object.
func VerifyContent(info Info, payload []byte) error {
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])
	if len(info.Key) < len(digest) || info.Key[len(info.Key)-len(digest):] != digest {
		return fmt.Errorf("blob %s does not match content digest %s", info.Key, digest)
	}
	return nil
}
