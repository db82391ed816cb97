package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainAnnotatedSource separates source digests from any other hash the
// tool may compute. The version suffix allows changing the algorithm later.
const DomainAnnotatedSource = "xpand/annotated-source/v1"

// Digest returns the hex SHA-256 of data under the annotated-source domain.
// Format: SHA256(domain + 0x00 + data).
func Digest(data []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainAnnotatedSource))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
