package access

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultCodeLength is the length of generated codes.
	DefaultCodeLength = 6

	maxGenerateAttempts = 8
)

// RandomCode returns an upper-case alphanumeric token of DefaultCodeLength
// characters cut from a random UUID.
func RandomCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:DefaultCodeLength])
}
