package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Fingerprint hashes manifest bytes so pollers can skip unchanged content.
func Fingerprint(body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("manifest body is empty")
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
