package blobsource

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kraklabs/lora-orchestrator/internal/resilience"
)

// Layout selects how user bundles are arranged under a root directory or
// bucket.
type Layout string

const (
	// LayoutSharedBucket prefixes every user's blobs by user id under one
	// shared root: <root>/<user_id>/<files>.
	LayoutSharedBucket Layout = "single_bucket"
	// LayoutBucketPerUser gives each user a dedicated bucket with no prefix:
	// <bucket-per-user>/<files>. The local variant mirrors this under a
	// "buckets" parent distinct from the shared-bucket root, one
	// subdirectory per user, so the two layouts never collide on disk.
	LayoutBucketPerUser Layout = "bucket_per_user"
)

// Local is a filesystem-backed Source, used in development and in any
// deployment where adapter bundles live on a shared disk.
type Local struct {
	Root        string
	ScratchRoot string
	Layout      Layout
	Retry       resilience.Policy
}

// NewLocal builds a Local blob source rooted at root, materializing bundles
// under scratchRoot.
func NewLocal(root, scratchRoot string, layout Layout) *Local {
	p := resilience.DefaultPolicy()
	p.NonRetryable = IsNonRetryable
	return &Local{Root: root, ScratchRoot: scratchRoot, Layout: layout, Retry: p}
}

func (l *Local) userDir(userID string) string {
	if l.Layout == LayoutBucketPerUser {
		return filepath.Join(l.Root, "buckets", userID)
	}
	return filepath.Join(l.Root, userID)
}

func (l *Local) List(ctx context.Context, userID string) ([]Object, error) {
	return resilience.WithRetryValue(ctx, l.Retry, "blobsource.local.list", func(ctx context.Context) ([]Object, error) {
		return l.listOnce(userID)
	})
}

func (l *Local) listOnce(userID string) ([]Object, error) {
	dir := l.userDir(userID)
	_, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: user %s", ErrNoBundle, userID)
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrIoError, dir, err)
	}

	var objects []Object
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:         filepath.ToSlash(rel),
			Fingerprint: fmt.Sprintf("%d", info.ModTime().Unix()),
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrIoError, dir, err)
	}

	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoBundle, userID)
	}

	return objects, nil
}

func (l *Local) Materialize(ctx context.Context, userID string, destDir string) error {
	return resilience.WithRetry(ctx, l.Retry, "blobsource.local.materialize", func(ctx context.Context) error {
		return l.materializeOnce(userID, destDir)
	})
}

func (l *Local) materializeOnce(userID, destDir string) error {
	objects, err := l.listOnce(userID)
	if err != nil {
		return err
	}

	srcDir := l.userDir(userID)
	for _, o := range objects {
		srcPath := filepath.Join(srcDir, filepath.FromSlash(o.Key))
		dstPath := filepath.Join(destDir, filepath.Base(o.Key))
		if err := copyFile(srcPath, dstPath); err != nil {
			return fmt.Errorf("%w: copy %s: %v", ErrIoError, o.Key, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// ScratchDir builds a unique, collision-resistant materialization directory
// name encoding the user id and an 8-character version prefix.
func ScratchDir(scratchRoot, userID, version string) string {
	prefix := version
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := fmt.Sprintf("%s_%s_%s", userID, prefix, uuid.NewString()[:8])
	return filepath.Join(scratchRoot, name)
}
