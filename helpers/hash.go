package helpers

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashContent returns the hex encoded BLAKE3 digest of content.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
