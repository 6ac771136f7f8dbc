// Package fileid derives stable document ids for files picked up from watched directories.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const prefix = "file-"

// DocumentID returns the id of the document that userID's copy of path becomes. The same
// user and cleaned path always give the same id, so a re-ingested file replaces its
// earlier document instead of adding another.
func DocumentID(userID, path string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// IsFileID reports whether id was produced by DocumentID.
func IsFileID(id string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+32
}
