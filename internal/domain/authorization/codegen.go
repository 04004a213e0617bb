package authorization

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Generated codes look like AUTH-20260301-7K2Q9X: a date stamp plus a random
// suffix. The suffix alphabet drops 0/O/1/I to keep codes readable over the
// phone. Operator-supplied codes may deviate from the template but must be
// uppercase alphanumeric (hyphens allowed) and globally unique.
const (
	codePrefix     = "AUTH"
	suffixLen      = 6
	suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxGenAttempts = 32
)

var (
	codePattern   = regexp.MustCompile(`^AUTH-\d{8}-[A-Z0-9]{6}$`)
	manualPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,30}[A-Z0-9]$`)
)

// NormalizeCode maps operator input onto the stored representation. Codes
// are stored uppercase and matched case-insensitively.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GenerateCode returns a fresh authorization code string stamped with the
// given issue date. Randomness comes from crypto/rand; uniqueness is enforced
// by the store, not here.
func GenerateCode(issued time.Time) (string, error) {
	buf := make([]byte, suffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", codePrefix, issued.Format("20060102"), buf), nil
}

// IsWellFormed reports whether s matches the generated template. It says
// nothing about whether the code exists or is usable.
func IsWellFormed(s string) bool {
	return codePattern.MatchString(s)
}

// IsValidManual reports whether a normalised operator-supplied code is
// acceptable for storage.
func IsValidManual(s string) bool {
	return manualPattern.MatchString(s)
}
