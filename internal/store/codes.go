package store

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet avoids 0/O/1/I so codes survive being read aloud or typed
// from a phone screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a pairing code.
const CodeLength = 8

// GenerateCode returns a uniformly random pairing code.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes user input before comparison.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
