package crypto

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// RequestDigest keccak256-hashes a canonical request payload: the operation
// name followed by its fields, pipe-separated. Both the client and the API
// server build the same string, so a recovered signature pins the caller to
// exactly these parameters.
func RequestDigest(op string, fields ...string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(op))
	for _, f := range fields {
		h.Write([]byte("|"))
		h.Write([]byte(strings.ToLower(f)))
	}
	return h.Sum(nil)
}
