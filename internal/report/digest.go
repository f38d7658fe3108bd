package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainScenario separates report digests from other hashes of the same
// bytes. The version suffix allows changing the canonical form later.
const DomainScenario = "listproof/scenario/v1"

// Digest returns SHA256(domain || 0x00 || canonical(s)) in hex. Two runs
// with equal digests rendered the same outcome.
func Digest(s *Scenario) (string, error) {
	data, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainScenario))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
