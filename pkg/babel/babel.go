// Package babel holds the wire constants and defaults shared by the
// resend and authentication packages. It exists to avoid an import
// cycle between pkg/auth and pkg/resend, both of which need the same
// TLV type codes.
package babel

import "time"

// TLV type codes, as they appear on the wire after the 4-byte packet
// header.
const (
	MessagePad1 = 0
	TSPCType    = 11
	HMACType    = 12
)

// DigestLen is the length in bytes of a SHA1-HMAC digest.
const DigestLen = 20

// SHA1BlockSize is the block size of the underlying hash function used
// to pad the HMAC key.
const SHA1BlockSize = 64

// RTProtoBabelLocal tags locally-originated host routes synthesised
// from interface addresses during xroute reconciliation.
const RTProtoBabelLocal = 42

// Infinity is the unreachable metric sentinel.
const Infinity uint16 = 0xFFFF

// Default resend tuning, overridable via configuration.
const (
	DefaultResendMax      uint8 = 3
	DefaultRequestTimeout       = 120 * time.Second
)

// MaxDelay is the clamp applied to a resend entry's backoff delay.
const MaxDelay uint16 = 0xFFFF
