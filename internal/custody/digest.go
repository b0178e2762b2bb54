package custody

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// ParseAlgorithm maps a name to an Algorithm. The empty string selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "":
		return SHA256, nil
	case SHA256, BLAKE2b256:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// Sum returns the lowercase hex digest of content.
func (a Algorithm) Sum(content []byte) (string, error) {
	switch a {
	case SHA256:
		sum := sha256.Sum256(content)
		return hex.EncodeToString(sum[:]), nil
	case BLAKE2b256:
		sum := blake2b.Sum256(content)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// referenceLen is the number of digest characters shown in a reference.
const referenceLen = 12

// Reference returns the display token for a hex digest: "CV-" followed by
// its first twelve characters, upper-cased.
func Reference(digest string) string {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return "CV-NONE"
	}
	if len(digest) > referenceLen {
		digest = digest[:referenceLen]
	}
	return "CV-" + strings.ToUpper(digest)
}
