// Package blobsource abstracts over where adapter bundles live: a local
// filesystem tree during development, or an S3/MinIO-compatible bucket in
// production. Both implementations compute a version tag by hashing the
// sorted (key, fingerprint, size) tuples of a user's blobs, and materialize
// a bundle by copying those blobs into a fresh scratch directory.
package blobsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Object describes one blob belonging to a user's adapter bundle.
type Object struct {
	// Key is the blob's path relative to the user's prefix, e.g.
	// "adapter_model.bin".
	Key string
	// Fingerprint is an opaque per-backend change marker: an S3 ETag
	// (quotes stripped) or a local file's mtime formatted to the second.
	Fingerprint string
	Size        int64
}

// Source is the boundary the orchestrator depends on to discover and fetch
// a user's adapter bundle.
type Source interface {
	// List returns every object under the user's bundle prefix. Returns
	// ErrNoBundle (wrapped) if the user has no bundle at all.
	List(ctx context.Context, userID string) ([]Object, error)

	// Materialize copies every object under the user's bundle prefix into
	// destDir, which the caller has already created. Returns ErrNoBundle if
	// the user has no bundle.
	Materialize(ctx context.Context, userID string, destDir string) error
}

// VersionTag computes the fingerprint-stable version tag for a set of
// objects: the hex SHA-256 of the key-sorted "key:fingerprint:size" tuples,
// each followed by a newline.
func VersionTag(objects []Object) string {
	sorted := make([]Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := sha256.New()
	for _, o := range sorted {
		fmt.Fprintf(h, "%s:%s:%d\n", o.Key, o.Fingerprint, o.Size)
	}
	return hex.EncodeToString(h.Sum(nil))
}
