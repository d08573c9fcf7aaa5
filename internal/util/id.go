package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 12

// NewID returns a prefixed random identifier ("wave_3f9a…"). The prefix
// names the entity kind so ids stay greppable across tables and logs;
// an empty prefix yields the bare hex value.
func NewID(prefix string) string {
	raw := make([]byte, idBytes)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
