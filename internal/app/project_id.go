package app

import (
	"encoding/hex"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ProjectID derives the stable storage id for a project root: a truncated
// blake3 digest of the absolute path, so the same project maps to the same
// storage directory across restarts regardless of access order.
func ProjectID(root string) (string, string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	sum := blake3.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16], abs, nil
}
