package stock

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentHash - BLAKE2b-256 контента в hex. Сам контент в логи не попадает.
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
