package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Pairing code constants.
const (
	// CodeLength is the number of digits in a pairing code.
	CodeLength = 6

	// CodeMax is the maximum pairing code value (999999).
	CodeMax = 999999
)

// Code represents a 6-digit pairing code.
type Code uint32

// GenerateCode generates a cryptographically random pairing code.
func GenerateCode() (Code, error) {
	max := big.NewInt(CodeMax + 1)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("failed to generate random pairing code: %w", err)
	}
	return Code(n.Uint64()), nil
}

// ParseCode parses a 6-digit string into a Code.
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) != CodeLength {
		return 0, fmt.Errorf("%w: must be %d digits", ErrInvalidCode, CodeLength)
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	return Code(n), nil
}

// String returns the code as a 6-digit string with leading zeros.
func (c Code) String() string {
	return fmt.Sprintf("%06d", c)
}
