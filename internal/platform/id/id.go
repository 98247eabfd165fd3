// Package id generates compact globally-unique identifiers.
//
// Identifiers are UUIDv4 bytes encoded as unpadded lowercase base32, which
// keeps them URL- and cookie-safe while preserving UUID randomness.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
