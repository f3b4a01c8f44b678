package storage

import (
	"crypto/rand"
	"encoding/hex"
)

// NewTxID returns a fresh ledger token: "TX_" plus 128 random bits in hex.
// Collision probability stays far below 2^-64 at any realistic rate.
func NewTxID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "TX_" + hex.EncodeToString(b[:])
}
