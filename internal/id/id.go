package id

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// MaxRequestIDLength bounds caller-supplied request IDs that are echoed back.
const MaxRequestIDLength = 64

// NewRequestID returns 16 random bytes as lowercase hex.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req-unavailable"
	}
	return hex.EncodeToString(b[:])
}

// RequestID keeps an inbound ID when it is short and printable, otherwise mints one.
func RequestID(inbound string) string {
	inbound = strings.TrimSpace(inbound)
	if inbound == "" || len(inbound) > MaxRequestIDLength {
		return NewRequestID()
	}
	for i := 0; i < len(inbound); i++ {
		if c := inbound[i]; c < 0x21 || c > 0x7e {
			return NewRequestID()
		}
	}
	return inbound
}
