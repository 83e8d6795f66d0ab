package util

import (
	"encoding/hex"
	"math/big"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFC form of s. Subject attribute values are
// normalized before policy matching so that equivalent code point sequences
// compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// HexEncode renders fingerprints as lowercase hex.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// SerialString renders a certificate serial as a decimal string, the form
// used as a key in the revocation ledger.
func SerialString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.Text(10)
}

// ParseSerial parses a decimal or 0x-prefixed hexadecimal serial number.
func ParseSerial(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
