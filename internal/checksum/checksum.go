// Package checksum computes content digests for local and remote comparison.
package checksum

import (
	"crypto/sha1" //nolint:gosec // git object ids are sha1 by definition
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// GitBlob returns the git object id of data stored as a blob, which is what
// the remote reports as a file's sha.
func GitBlob(data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
