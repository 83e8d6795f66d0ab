package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// serialLimit bounds random serial numbers to 159 bits so the DER encoding
// never exceeds 20 octets.
var serialLimit = new(big.Int).Lsh(big.NewInt(1), 159)

// RandomSerial returns a positive random certificate serial number.
func RandomSerial() (*big.Int, error) {
	for {
		n, err := rand.Int(rand.Reader, serialLimit)
		if err != nil {
			return nil, fmt.Errorf("generating serial number: %w", err)
		}
		if n.Sign() > 0 {
			return n, nil
		}
	}
}
