package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// ChunkID is stable for a given paper, position and text, so re-indexing the
// same paper upserts instead of appending duplicates.
func ChunkID(paperID string, index int, text string) string {
	return SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s", paperID, index, text)))
}
