package blobsource

import (
	"io"
	"os"
	"path/filepath"
)

// writeObjectBody streams src into destDir/baseName, creating destDir's
// parent structure is the caller's responsibility (the orchestrator always
// creates the scratch directory before materializing into it).
func writeObjectBody(destDir, baseName string, src io.Reader) error {
	dstPath := filepath.Join(destDir, filepath.Base(baseName))
	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}
